package protocol

import (
	"fmt"
	"sync"

	"github.com/nmamano/wallgame-broker/internal/models"
)

// SocketState is a bot socket's position in the opened -> attached -> closed
// state machine (spec.md §4.5.1).
type SocketState string

const (
	SocketOpened   SocketState = "opened"
	SocketAttached SocketState = "attached"
	SocketClosed   SocketState = "closed"
)

// AttachError pairs a rejection code with a human message. It replaces the
// source's ad-hoc error shapes with one reified type the handler can turn
// directly into an AttachRejectedMsg.
type AttachError struct {
	Code    string
	Message string
}

func (e *AttachError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func attachErr(code, msg string) *AttachError { return &AttachError{Code: code, Message: msg} }

// BotSocket is the connection-local state owned by the socket handler for
// one bot WebSocket — the source kept this in a weak map keyed by the raw
// socket; this struct replaces that indirection (spec.md §9).
type BotSocket struct {
	mu              sync.Mutex
	ClientID        string
	State           SocketState
	UnexpectedCount int
	unexpectedLimit int
}

// NewBotSocket builds a socket whose unexpected-message threshold is limit;
// a non-positive value falls back to UnexpectedMessageLimit.
func NewBotSocket(limit int) *BotSocket {
	if limit <= 0 {
		limit = UnexpectedMessageLimit
	}
	return &BotSocket{State: SocketOpened, unexpectedLimit: limit}
}

// RegisterUnexpected increments the unexpected-message counter and reports
// whether the count has now reached the configured threshold.
func (bs *BotSocket) RegisterUnexpected() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.UnexpectedCount++
	return bs.UnexpectedCount >= bs.unexpectedLimit
}

func (bs *BotSocket) SetAttached(clientID string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.ClientID = clientID
	bs.State = SocketAttached
}

func (bs *BotSocket) SetClosed() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.State = SocketClosed
}

func (bs *BotSocket) CurrentState() SocketState {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.State
}

// validateAttachMessage runs the message-shape checks from spec.md §4.5.1
// table rows 1-5 (protocol version through per-bot schema). Rows 6-8
// (duplicate botId, official token, client cap) are enforced by
// botregistry.RegisterClient, which the engine calls immediately after
// this succeeds, preserving the spec's overall check ordering.
func validateAttachMessage(msg AttachMessage) *AttachError {
	if msg.ProtocolVersion != ProtocolVersion {
		return attachErr(CodeProtocolUnsupported, fmt.Sprintf("unsupported protocolVersion %d, expected %d", msg.ProtocolVersion, ProtocolVersion))
	}
	if msg.Client.Name == "" || msg.Client.Version == "" {
		return attachErr(CodeInvalidMessage, "client.name and client.version are required")
	}
	if msg.ClientID == "" {
		return attachErr(CodeInvalidMessage, "clientId is required")
	}
	if len(msg.Bots) == 0 {
		return attachErr(CodeNoBots, "at least one bot is required")
	}
	for _, b := range msg.Bots {
		if err := validateBotConfig(b); err != nil {
			return err
		}
	}
	return nil
}

func validateBotConfig(b BotConfigMsg) *AttachError {
	if b.BotID == "" {
		return attachErr(CodeInvalidBotConfig, "botId is required")
	}
	if b.Name == "" {
		return attachErr(CodeInvalidBotConfig, fmt.Sprintf("bot %q: name is required", b.BotID))
	}
	if len(b.Variants) == 0 {
		return attachErr(CodeInvalidBotConfig, fmt.Sprintf("bot %q: at least one supported variant is required", b.BotID))
	}
	for variant, vr := range b.Variants {
		if vr.BoardWidth.Min <= 0 || vr.BoardWidth.Max < vr.BoardWidth.Min {
			return attachErr(CodeInvalidBotConfig, fmt.Sprintf("bot %q: invalid boardWidth range for variant %s", b.BotID, variant))
		}
		if vr.BoardHeight.Min <= 0 || vr.BoardHeight.Max < vr.BoardHeight.Min {
			return attachErr(CodeInvalidBotConfig, fmt.Sprintf("bot %q: invalid boardHeight range for variant %s", b.BotID, variant))
		}
	}
	return nil
}

func toVariantRanges(variants map[string]VariantRangeMsg) map[models.Variant]models.VariantRange {
	out := make(map[models.Variant]models.VariantRange, len(variants))
	for k, v := range variants {
		recs := make([]models.BoardConfig, 0, len(v.Recommended))
		for _, r := range v.Recommended {
			recs = append(recs, models.BoardConfig{BoardWidth: r.BoardWidth, BoardHeight: r.BoardHeight})
		}
		out[models.Variant(k)] = models.VariantRange{
			BoardWidthMin: v.BoardWidth.Min, BoardWidthMax: v.BoardWidth.Max,
			BoardHeightMin: v.BoardHeight.Min, BoardHeightMax: v.BoardHeight.Max,
			Recommended: recs,
		}
	}
	return out
}
