package ephemeral

import (
	"context"
	"time"
)

// UnavailableStore is the degraded-mode store: every operation reports
// ErrUnavailable so callers take their durable fallbacks. It stands in when
// the configured store cannot be reached. The MemoryStore is not a substitute
// here: it would serve process-local state that no other instance sees.
type UnavailableStore struct{}

var _ Store = (*UnavailableStore)(nil)

func NewUnavailableStore() *UnavailableStore {
	return &UnavailableStore{}
}

func (*UnavailableStore) GetString(context.Context, string) (string, bool, error) {
	return "", false, ErrUnavailable
}

func (*UnavailableStore) SetString(context.Context, string, string, time.Duration) error {
	return ErrUnavailable
}

func (*UnavailableStore) SetStringNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, ErrUnavailable
}

func (*UnavailableStore) HashGetAll(context.Context, string) (map[string]string, error) {
	return nil, ErrUnavailable
}

func (*UnavailableStore) HashSet(context.Context, string, map[string]string, time.Duration) error {
	return ErrUnavailable
}

func (*UnavailableStore) SetAdd(context.Context, string, string) error {
	return ErrUnavailable
}

func (*UnavailableStore) SetRemove(context.Context, string, string) error {
	return ErrUnavailable
}

func (*UnavailableStore) SetMembers(context.Context, string) ([]string, error) {
	return nil, ErrUnavailable
}

func (*UnavailableStore) Scan(context.Context, string) ([]string, error) {
	return nil, ErrUnavailable
}

func (*UnavailableStore) Exists(context.Context, string) (bool, error) {
	return false, ErrUnavailable
}

func (*UnavailableStore) Expire(context.Context, string, time.Duration) error {
	return ErrUnavailable
}

func (*UnavailableStore) Delete(context.Context, ...string) error {
	return ErrUnavailable
}

func (*UnavailableStore) Pipeline() Pipeline {
	return unavailablePipeline{}
}

func (*UnavailableStore) Publish(context.Context, string, []byte) error {
	return ErrUnavailable
}

func (*UnavailableStore) PatternSubscribe(context.Context, string, func(channel string, payload []byte)) (Subscription, error) {
	return nil, ErrUnavailable
}

func (*UnavailableStore) Ping(context.Context) error {
	return ErrUnavailable
}

func (*UnavailableStore) Close() error {
	return nil
}

type unavailablePipeline struct{}

func (unavailablePipeline) SetString(string, string, time.Duration)          {}
func (unavailablePipeline) HashSet(string, map[string]string, time.Duration) {}
func (unavailablePipeline) SetAdd(string, string)                            {}
func (unavailablePipeline) SetRemove(string, string)                         {}
func (unavailablePipeline) Delete(...string)                                 {}
func (unavailablePipeline) Expire(string, time.Duration)                     {}

func (unavailablePipeline) Exec(context.Context) error {
	return ErrUnavailable
}
