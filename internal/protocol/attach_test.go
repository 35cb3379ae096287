package protocol

import "testing"

func validAttach() AttachMessage {
	return AttachMessage{
		Type:            "attach",
		ProtocolVersion: ProtocolVersion,
		ClientID:        "client-1",
		Client:          ClientInfo{Name: "mybot", Version: "1.0.0"},
		Bots: []BotConfigMsg{
			{
				BotID: "bot-1",
				Name:  "My Bot",
				Variants: map[string]VariantRangeMsg{
					"standard": {BoardWidth: MinMax{Min: 5, Max: 9}, BoardHeight: MinMax{Min: 5, Max: 9}},
				},
			},
		},
	}
}

func TestValidateAttachMessageAccepts(t *testing.T) {
	if err := validateAttachMessage(validAttach()); err != nil {
		t.Fatalf("expected valid attach message, got %v", err)
	}
}

func TestValidateAttachMessageRejectsBadProtocolVersion(t *testing.T) {
	msg := validAttach()
	msg.ProtocolVersion = 1
	err := validateAttachMessage(msg)
	if err == nil || err.Code != CodeProtocolUnsupported {
		t.Fatalf("expected %s, got %v", CodeProtocolUnsupported, err)
	}
}

func TestValidateAttachMessageRejectsNoBots(t *testing.T) {
	msg := validAttach()
	msg.Bots = nil
	err := validateAttachMessage(msg)
	if err == nil || err.Code != CodeNoBots {
		t.Fatalf("expected %s, got %v", CodeNoBots, err)
	}
}

func TestValidateAttachMessageRejectsMissingBotName(t *testing.T) {
	msg := validAttach()
	msg.Bots[0].Name = ""
	err := validateAttachMessage(msg)
	if err == nil || err.Code != CodeInvalidBotConfig {
		t.Fatalf("expected %s, got %v", CodeInvalidBotConfig, err)
	}
}

func TestValidateAttachMessageRejectsInvalidVariantRange(t *testing.T) {
	msg := validAttach()
	msg.Bots[0].Variants["standard"] = VariantRangeMsg{BoardWidth: MinMax{Min: 9, Max: 5}, BoardHeight: MinMax{Min: 5, Max: 9}}
	err := validateAttachMessage(msg)
	if err == nil || err.Code != CodeInvalidBotConfig {
		t.Fatalf("expected %s, got %v", CodeInvalidBotConfig, err)
	}
}

func TestBotSocketUnexpectedThreshold(t *testing.T) {
	sock := NewBotSocket(0)
	exceeded := false
	for i := 0; i < UnexpectedMessageLimit; i++ {
		exceeded = sock.RegisterUnexpected()
	}
	if !exceeded {
		t.Fatalf("expected threshold exceeded after %d unexpected messages", UnexpectedMessageLimit)
	}
}

func TestBotSocketStateTransitions(t *testing.T) {
	sock := NewBotSocket(0)
	if sock.CurrentState() != SocketOpened {
		t.Fatalf("expected initial state opened")
	}
	sock.SetAttached("client-1")
	if sock.CurrentState() != SocketAttached || sock.ClientID != "client-1" {
		t.Fatalf("expected attached state with clientId set")
	}
	sock.SetClosed()
	if sock.CurrentState() != SocketClosed {
		t.Fatalf("expected closed state")
	}
}
