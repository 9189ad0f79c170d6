package circuit

import (
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"deriv-bot/config"
)

type recordingBroadcaster struct {
	events []string
}

func (r *recordingBroadcaster) Publish(eventType string, payload interface{}) {
	r.events = append(r.events, eventType)
}

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		Enabled:              true,
		MaxLossPerHour:       100,
		MaxConsecutiveLosses: 3,
		CooldownMinutes:      30,
		MaxTradesPerMinute:   5,
		MaxDailyLoss:         200,
		MaxDailyTrades:       20,
	}
}

func newTestBreaker() (*Breaker, *recordingBroadcaster) {
	bc := &recordingBroadcaster{}
	return New(testBreakerConfig(), bc, zerolog.Nop()), bc
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker()

	if b.State() != StateClosed {
		t.Errorf("Expected closed, got %s", b.State())
	}
	if ok, reason := b.CanTrade(); !ok {
		t.Errorf("Expected trading allowed, got %q", reason)
	}
}

func TestBreaker_DisabledAlwaysAllows(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.Enabled = false
	b := New(cfg, nil, zerolog.Nop())

	for i := 0; i < 10; i++ {
		b.RecordTradeResult(-1000)
	}
	if ok, _ := b.CanTrade(); !ok {
		t.Error("Disabled breaker must never block")
	}
}

func TestBreaker_ConsecutiveLossesTrip(t *testing.T) {
	b, bc := newTestBreaker()

	b.RecordTradeResult(-5)
	b.RecordTradeResult(-5)
	if b.State() != StateClosed {
		t.Fatal("Two losses must not trip a three-loss limit")
	}

	b.RecordTradeResult(-5)
	if b.State() != StateOpen {
		t.Fatal("Expected trip on third consecutive loss")
	}
	if ok, reason := b.CanTrade(); ok || !strings.Contains(reason, "cooldown") {
		t.Errorf("Expected cooldown block, got ok=%v reason=%q", ok, reason)
	}
	if len(bc.events) != 1 || bc.events[0] != EventBreakerTripped {
		t.Errorf("Expected trip broadcast, got %v", bc.events)
	}
}

func TestBreaker_WinResetsLossStreak(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordTradeResult(-5)
	b.RecordTradeResult(-5)
	b.RecordTradeResult(10)
	b.RecordTradeResult(-5)
	b.RecordTradeResult(-5)

	if b.State() != StateClosed {
		t.Error("A win between losses must reset the streak")
	}
}

func TestBreaker_HourlyLossTrips(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordTradeResult(-60)
	b.RecordTradeResult(-45)

	if b.State() != StateOpen {
		t.Error("Expected trip at $105 hourly loss against a $100 limit")
	}
}

func TestBreaker_RateLimitBlocksWithoutTripping(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordTradeResult(1)
	}

	if ok, reason := b.CanTrade(); ok || !strings.Contains(reason, "rate limit") {
		t.Errorf("Expected rate limit block, got ok=%v reason=%q", ok, reason)
	}
	if b.State() != StateClosed {
		t.Error("Rate limiting must not open the breaker")
	}
}

func TestBreaker_NaNAndInfIgnored(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordTradeResult(math.NaN())
	b.RecordTradeResult(math.Inf(-1))

	stats := b.Stats()
	if stats["daily_trades"] != 0 {
		t.Errorf("Expected non-finite results dropped, got %v daily trades", stats["daily_trades"])
	}
}

func TestBreaker_ForceResetClears(t *testing.T) {
	b, bc := newTestBreaker()

	b.RecordTradeResult(-5)
	b.RecordTradeResult(-5)
	b.RecordTradeResult(-5)
	if b.State() != StateOpen {
		t.Fatal("Expected tripped breaker")
	}

	b.ForceReset()
	if b.State() != StateClosed {
		t.Error("Expected closed after manual reset")
	}
	if len(bc.events) != 2 {
		t.Errorf("Expected trip and reset broadcasts, got %d", len(bc.events))
	}
}

func TestBreaker_StatsSnapshot(t *testing.T) {
	b, _ := newTestBreaker()
	b.RecordTradeResult(-25)

	stats := b.Stats()
	if stats["state"] != string(StateClosed) {
		t.Errorf("Expected closed state in stats, got %v", stats["state"])
	}
	if stats["hourly_loss_usd"] != 25.0 {
		t.Errorf("Expected $25 hourly loss, got %v", stats["hourly_loss_usd"])
	}
	if stats["consecutive_losses"] != 1 {
		t.Errorf("Expected 1 consecutive loss, got %v", stats["consecutive_losses"])
	}
}
