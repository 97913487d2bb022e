package ephemeral

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUnavailableStore_EveryOperationFails(t *testing.T) {
	store := NewUnavailableStore()
	ctx := context.Background()

	if _, _, err := store.GetString(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetString err = %v, want ErrUnavailable", err)
	}
	if _, err := store.SetStringNX(ctx, "k", "v", time.Second); !errors.Is(err, ErrUnavailable) {
		t.Errorf("SetStringNX err = %v, want ErrUnavailable", err)
	}
	if _, err := store.SetMembers(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("SetMembers err = %v, want ErrUnavailable", err)
	}
	if err := store.Pipeline().Exec(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("pipeline Exec err = %v, want ErrUnavailable", err)
	}
	if _, err := store.PatternSubscribe(ctx, EventsChannelPattern, nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("PatternSubscribe err = %v, want ErrUnavailable", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping err = %v, want ErrUnavailable", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close err = %v, want nil", err)
	}
}
