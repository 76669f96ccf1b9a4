package polymarketevents

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestNewPolymarketEventsClient(t *testing.T) {
	client := NewPolymarketEventsClient(nil)

	if client.logger == nil {
		t.Error("expected logger to be set")
	}
	if client.marketWSURL != "wss://ws-subscriptions-clob.polymarket.com/ws/market" {
		t.Errorf("unexpected market ws url: %s", client.marketWSURL)
	}
	if client.dialer == nil {
		t.Error("expected a default dialer")
	}
	if !client.customFeatureEnabled {
		t.Error("expected customFeatureEnabled to default true")
	}
}

func TestNewPolymarketEventsClient_WithLogger(t *testing.T) {
	logger := zap.NewNop()
	client := NewPolymarketEventsClient(logger)

	if client.logger != logger {
		t.Error("expected the provided logger to be used")
	}
}

func TestMessages(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	if client.Messages() == nil {
		t.Error("expected a non-nil messages channel")
	}
}

func TestErrors(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	if client.Errors() == nil {
		t.Error("expected a non-nil errors channel")
	}
}

func TestClose_NoConnection(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	if err := client.Close(); err != nil {
		t.Errorf("unexpected error closing an unconnected client: %v", err)
	}
}

func TestClose_MultipleCloses(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	if err := client.Close(); err != nil {
		t.Errorf("unexpected error on first close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("unexpected error on second close: %v", err)
	}
}

func TestWriteJSON_NotConnected(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	if err := client.writeJSON(map[string]any{"type": "market"}); err == nil {
		t.Error("expected error writing to an unconnected client")
	}
}

func TestEmitFrame_EmptyInput(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte{})

	select {
	case msg := <-client.msgCh:
		t.Errorf("expected no message forwarded, got %s", msg)
	default:
	}
}

func TestEmitFrame_OnlyWhitespace(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte("   \n\t  "))

	select {
	case msg := <-client.msgCh:
		t.Errorf("expected no message forwarded, got %s", msg)
	default:
	}
}

func TestEmitFrame_SingleObject(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte(`{"event_type":"trade","asset_id":"123","price":"0.55"}`))

	select {
	case msg := <-client.msgCh:
		var evt TradeEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("unexpected unmarshal error: %v", err)
		}
		if evt.AssetID != "123" {
			t.Errorf("unexpected asset id: %s", evt.AssetID)
		}
	default:
		t.Error("expected a forwarded message")
	}
}

func TestEmitFrame_WhitespaceVariants(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte("  \n  {\"event_type\":\"trade\",\"asset_id\":\"1\",\"price\":\"0.1\"}"))

	select {
	case <-client.msgCh:
	default:
		t.Error("expected a forwarded message despite leading whitespace")
	}
}

func TestEmitFrame_TabPrefix(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte("\t{\"event_type\":\"trade\",\"asset_id\":\"1\",\"price\":\"0.1\"}"))

	select {
	case <-client.msgCh:
	default:
		t.Error("expected a forwarded message despite leading tab")
	}
}

func TestEmitFrame_Array(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte(`[{"event_type":"trade","asset_id":"1","price":"0.1"},{"event_type":"trade","asset_id":"2","price":"0.2"}]`))

	count := 0
	for {
		select {
		case <-client.msgCh:
			count++
		default:
			if count != 2 {
				t.Errorf("expected 2 forwarded messages, got %d", count)
			}
			return
		}
	}
}

func TestEmitFrame_ArrayWithWhitespace(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte("  [{\"event_type\":\"trade\",\"asset_id\":\"1\",\"price\":\"0.1\"}]"))

	select {
	case <-client.msgCh:
	default:
		t.Error("expected a forwarded message from a whitespace-prefixed array")
	}
}

func TestEmitFrame_NestedArray(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte(`[{"event_type":"last_trade_price","asset_id":"1","price":"0.3"}]`))

	select {
	case msg := <-client.msgCh:
		evt := ParseTradeEvent(msg)
		if evt == nil || evt.AssetID != "1" {
			t.Errorf("unexpected parsed event: %+v", evt)
		}
	default:
		t.Error("expected a forwarded message")
	}
}

func TestEmitFrame_LargeArray(t *testing.T) {
	client := NewPolymarketEventsClient(nil)

	frame := "["
	for i := 0; i < 50; i++ {
		if i > 0 {
			frame += ","
		}
		frame += `{"event_type":"trade","asset_id":"1","price":"0.1"}`
	}
	frame += "]"

	client.emitFrame([]byte(frame))

	count := 0
	for {
		select {
		case <-client.msgCh:
			count++
		default:
			if count != 50 {
				t.Errorf("expected 50 forwarded messages, got %d", count)
			}
			return
		}
	}
}

func TestEmitFrame_EmptyArray(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte(`[]`))

	select {
	case msg := <-client.msgCh:
		t.Errorf("expected no forwarded messages for an empty array, got %s", msg)
	default:
	}
}

func TestEmitFrame_InvalidJSON(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte(`[not valid json`))

	select {
	case msg := <-client.msgCh:
		t.Errorf("expected no forwarded messages for invalid json, got %s", msg)
	default:
	}
}

func TestEmitFrame_MalformedArrayJSON(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.emitFrame([]byte(`[{"event_type":"trade"},]`))

	select {
	case msg := <-client.msgCh:
		t.Errorf("expected no forwarded messages for malformed array json, got %s", msg)
	default:
	}
}

func TestForward_ChannelFull(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	client.msgCh = make(chan json.RawMessage, 1)

	client.forward(json.RawMessage(`{"a":1}`))
	client.forward(json.RawMessage(`{"a":2}`))

	if len(client.msgCh) != 1 {
		t.Errorf("expected the channel to hold exactly one message, got %d", len(client.msgCh))
	}
}

func TestForward_EmptyChannel(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	select {
	case <-client.msgCh:
		t.Error("expected an empty message channel on construction")
	default:
	}
}

func TestClient_ChannelAccess(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	if cap(client.msgCh) != 1024 {
		t.Errorf("unexpected msgCh capacity: %d", cap(client.msgCh))
	}
	if cap(client.errCh) != 64 {
		t.Errorf("unexpected errCh capacity: %d", cap(client.errCh))
	}
}

func TestParseTradeEvent_ValidTrade(t *testing.T) {
	data := json.RawMessage(`{"event_type":"trade","asset_id":"123456","price":"0.67"}`)
	evt := ParseTradeEvent(data)
	if evt == nil {
		t.Fatal("expected a parsed trade event")
	}
	if evt.AssetID != "123456" {
		t.Errorf("unexpected asset id: %s", evt.AssetID)
	}
	if evt.GetPriceFloat() != 0.67 {
		t.Errorf("unexpected price: %f", evt.GetPriceFloat())
	}
}

func TestParseTradeEvent_LastTradePrice(t *testing.T) {
	data := json.RawMessage(`{"event_type":"last_trade_price","asset_id":"789","price":"0.12"}`)
	evt := ParseTradeEvent(data)
	if evt == nil {
		t.Fatal("expected last_trade_price to parse as a trade event")
	}
}

func TestParseTradeEvent_NonTradeEvent(t *testing.T) {
	data := json.RawMessage(`{"event_type":"book","asset_id":"789"}`)
	if evt := ParseTradeEvent(data); evt != nil {
		t.Errorf("expected nil for a non-trade event type, got %+v", evt)
	}
}

func TestParseTradeEvent_InvalidJSON(t *testing.T) {
	if evt := ParseTradeEvent(json.RawMessage(`not json`)); evt != nil {
		t.Errorf("expected nil for invalid json, got %+v", evt)
	}
}

func TestParseTradeEvent_EmptyEventType(t *testing.T) {
	data := json.RawMessage(`{"asset_id":"789","price":"0.5"}`)
	if evt := ParseTradeEvent(data); evt != nil {
		t.Errorf("expected nil for an empty event type, got %+v", evt)
	}
}

func TestTradeEvent_GetPriceFloat(t *testing.T) {
	tests := []struct {
		name  string
		price string
		want  float64
	}{
		{"whole number", "1", 1.0},
		{"fraction", "0.5432", 0.5432},
		{"zero", "0", 0},
		{"empty", "", 0},
		{"garbage", "not-a-number", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := &TradeEvent{Price: tt.price}
			if got := evt.GetPriceFloat(); got != tt.want {
				t.Errorf("GetPriceFloat() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestTradeEvent_AllFields(t *testing.T) {
	evt := TradeEvent{
		EventType: "trade",
		AssetID:   "tok-1",
		Price:     "0.42",
	}

	if evt.EventType != "trade" {
		t.Errorf("unexpected event type: %s", evt.EventType)
	}
	if evt.AssetID != "tok-1" {
		t.Errorf("unexpected asset id: %s", evt.AssetID)
	}
	if evt.GetPriceFloat() != 0.42 {
		t.Errorf("unexpected price: %f", evt.GetPriceFloat())
	}
}

func TestNewPolymarketEventsClient_ChannelBuffers(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	if client.msgCh == nil || client.errCh == nil || client.closeCh == nil {
		t.Error("expected all channels to be initialized")
	}
}

func TestNewPolymarketEventsClient_DefaultDialer(t *testing.T) {
	client := NewPolymarketEventsClient(nil)
	if client.dialer == nil {
		t.Error("expected a non-nil default dialer")
	}
}
