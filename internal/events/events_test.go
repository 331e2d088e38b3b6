package events

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mfenderov/dossier/pkg/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(sub *Subscription) []models.ProgressEvent {
	var out []models.ProgressEvent
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus := New(Config{Buffer: 16})
	bus.Open("job-1")

	sub, err := bus.Subscribe("job-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	p := bus.Publisher("job-1")
	for i := 0; i < 5; i++ {
		p.Emit(models.StageFetch, models.StatusFetching, fmt.Sprintf("event %d", i), nil)
	}

	got := drain(sub)
	if len(got) != 5 {
		t.Fatalf("received %d events, want 5", len(got))
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d Seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.Message != fmt.Sprintf("event %d", i) {
			t.Errorf("event %d Message = %q", i, ev.Message)
		}
		if ev.JobID != "job-1" {
			t.Errorf("event %d JobID = %q", i, ev.JobID)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %d has zero timestamp", i)
		}
	}
}

func TestBus_PublishNeverBlocksAndDropsOldest(t *testing.T) {
	bus := New(Config{Buffer: 3})
	bus.Open("job-1")

	sub, err := bus.Subscribe("job-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 10; i++ {
			bus.Publish(models.ProgressEvent{JobID: "job-1", Message: fmt.Sprint(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a subscriber that never reads")
	}

	got := drain(sub)
	if len(got) != 3 {
		t.Fatalf("received %d events, want 3", len(got))
	}
	// The newest events survive, still in order.
	for i, want := range []string{"8", "9", "10"} {
		if got[i].Message != want {
			t.Errorf("event %d = %q, want %q", i, got[i].Message, want)
		}
	}
	if sub.Dropped() != 7 {
		t.Errorf("Dropped() = %d, want 7", sub.Dropped())
	}
}

func TestBus_JobsDoNotShareStreams(t *testing.T) {
	bus := New(Config{Buffer: 8})
	bus.Open("a")
	bus.Open("b")

	subA, _ := bus.Subscribe("a")
	subB, _ := bus.Subscribe("b")
	defer subA.Close()
	defer subB.Close()

	bus.Publisher("a").Emit(models.StageJob, models.StatusQueued, "for a", nil)

	if got := drain(subA); len(got) != 1 {
		t.Errorf("job a received %d events, want 1", len(got))
	}
	if got := drain(subB); len(got) != 0 {
		t.Errorf("job b received %d events, want 0", len(got))
	}
}

func TestBus_UnknownJob(t *testing.T) {
	bus := New(Config{})

	// Publishing to a job nobody opened is silently dropped.
	bus.Publish(models.ProgressEvent{JobID: "ghost"})

	_, err := bus.Subscribe("ghost")
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Subscribe() error = %v, want ErrUnknownJob", err)
	}
}

func TestBus_LateSubscriberReceivesBacklog(t *testing.T) {
	bus := New(Config{Buffer: 8, History: 2})
	bus.Open("job-1")

	p := bus.Publisher("job-1")
	p.Emit(models.StageJob, models.StatusQueued, "first", nil)
	p.Emit(models.StageFetch, models.StatusFetching, "second", nil)
	p.Emit(models.StageCollect, models.StatusCollecting, "third", nil)

	sub, err := bus.Subscribe("job-1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	got := drain(sub)
	if len(got) != 2 {
		t.Fatalf("backlog delivered %d events, want 2", len(got))
	}
	if got[0].Message != "second" || got[1].Message != "third" {
		t.Errorf("backlog = [%q %q], want [second third]", got[0].Message, got[1].Message)
	}
}

func TestBus_CloseJobClosesSubscribers(t *testing.T) {
	bus := New(Config{Buffer: 8})
	bus.Open("job-1")

	sub, _ := bus.Subscribe("job-1")
	bus.Publisher("job-1").Emit(models.StageEditor, models.StatusReportComplete, "done", nil)
	bus.CloseJob("job-1")

	var got []models.ProgressEvent
	for ev := range sub.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Status != models.StatusReportComplete {
		t.Errorf("got %v, want the terminal event before close", got)
	}

	// Closing again after the job ended must not panic.
	sub.Close()

	if _, err := bus.Subscribe("job-1"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Subscribe() after CloseJob error = %v, want ErrUnknownJob", err)
	}
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	bus := New(Config{Buffer: 1000})
	bus.Open("job-1")

	sub, _ := bus.Subscribe("job-1")
	defer sub.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := bus.Publisher("job-1")
			for i := 0; i < 50; i++ {
				p.Emit(models.StageFetch, models.StatusFetching, "tick", nil)
			}
		}()
	}
	wg.Wait()

	got := drain(sub)
	if len(got) != 400 {
		t.Fatalf("received %d events, want 400", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("Seq not increasing at %d: %d after %d", i, got[i].Seq, got[i-1].Seq)
		}
	}
}

func TestSubscription_Close(t *testing.T) {
	bus := New(Config{})
	bus.Open("job-1")

	sub, _ := bus.Subscribe("job-1")
	if bus.Subscribers("job-1") != 1 {
		t.Fatalf("Subscribers() = %d, want 1", bus.Subscribers("job-1"))
	}

	sub.Close()
	sub.Close()

	if bus.Subscribers("job-1") != 0 {
		t.Errorf("Subscribers() = %d, want 0", bus.Subscribers("job-1"))
	}
	// Publishing after a subscriber left is fine.
	bus.Publisher("job-1").Emit(models.StageJob, models.StatusQueued, "x", nil)
	bus.CloseJob("job-1")
}
