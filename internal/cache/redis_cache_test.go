package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kelvana/presetsmith/internal/models"
)

func newTestCache(t *testing.T) (*RedisRecordCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisRecordCache(rdb), mr
}

func TestRecordRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ref := "preset-a"
	rec := &models.InferenceRequest{
		ID:        "req-1",
		Model:     "preset-gen",
		Synth:     "vital",
		Status:    models.StatusDone,
		ResultRef: &ref,
	}

	if err := c.SetRecord(context.Background(), rec, time.Minute); err != nil {
		t.Fatalf("SetRecord failed: %v", err)
	}
	got, hit, err := c.GetRecord(context.Background(), "req-1")
	if err != nil || !hit {
		t.Fatalf("GetRecord = (hit=%v, err=%v)", hit, err)
	}
	if got.Status != models.StatusDone || got.ResultRef == nil || *got.ResultRef != ref {
		t.Fatalf("record = %+v", got)
	}
}

func TestGetRecordMiss(t *testing.T) {
	c, _ := newTestCache(t)
	_, hit, err := c.GetRecord(context.Background(), "nope")
	if err != nil || hit {
		t.Fatalf("miss = (hit=%v, err=%v), want clean miss", hit, err)
	}
}

func TestCorruptRecordTreatedAsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Set(recordKey("req-x"), "{not json")

	_, hit, err := c.GetRecord(context.Background(), "req-x")
	if err != nil || hit {
		t.Fatalf("corrupt value = (hit=%v, err=%v), want clean miss", hit, err)
	}
	if mr.Exists(recordKey("req-x")) {
		t.Fatal("corrupt value not evicted")
	}
}

func TestUnknownStatusTreatedAsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	// NOT_FOUND is a reporting sentinel, never a stored lifecycle state
	mr.Set(recordKey("req-y"), `{"id":"req-y","status":"NOT_FOUND"}`)

	_, hit, err := c.GetRecord(context.Background(), "req-y")
	if err != nil || hit {
		t.Fatalf("bogus status = (hit=%v, err=%v), want clean miss", hit, err)
	}
	if mr.Exists(recordKey("req-y")) {
		t.Fatal("record with bogus status not evicted")
	}
}

func TestDel(t *testing.T) {
	c, _ := newTestCache(t)
	for _, id := range []string{"a", "b"} {
		rec := &models.InferenceRequest{ID: id, Status: models.StatusError}
		if err := c.SetRecord(context.Background(), rec, time.Minute); err != nil {
			t.Fatalf("SetRecord failed: %v", err)
		}
	}
	if err := c.Del(context.Background(), "a", "b"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, hit, _ := c.GetRecord(context.Background(), id); hit {
			t.Fatalf("record %s survived Del", id)
		}
	}
}
