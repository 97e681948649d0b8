package dispatcher

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/jittakal/logdispatch/internal/logbuffer"
	internalnotify "github.com/jittakal/logdispatch/internal/notify"
	"github.com/jittakal/logdispatch/internal/scheduler"
	"github.com/jittakal/logdispatch/pkg/fragment"
	"github.com/jittakal/logdispatch/pkg/notify"
)

func TestConcurrentWritersSingleReader(t *testing.T) {
	const (
		writers   = 4
		perWriter = 500
	)

	actor := scheduler.NewActor("upkeep", nil)
	defer actor.Close()

	d, err := NewBuilder(actor).
		Name("concurrent").
		BufferSize(3 * 4096).
		UpkeepInterval(time.Millisecond).
		Subscriptions("reader").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer d.Close()
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sub, _ := d.Subscription("reader")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	consumed := internalnotify.NewWaiter()
	unregister := d.Signals().Register(notify.DataConsumed, consumed.Notify)
	defer unregister()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(writer uint32) {
			defer wg.Done()

			var claim logbuffer.ClaimedFragment
			for seq := uint32(0); seq < perWriter; {
				if ctx.Err() != nil {
					return
				}
				position, err := d.Claim(&claim, 8, int32(writer))
				if err != nil {
					t.Errorf("Claim() error = %v", err)
					return
				}
				switch position {
				case ResultLimitReached:
					consumed.Wait(ctx, time.Millisecond)
					continue
				case ResultPartitionRolled:
					continue
				}

				buf := claim.Buffer()
				binary.LittleEndian.PutUint32(buf[0:4], writer)
				binary.LittleEndian.PutUint32(buf[4:8], seq)
				claim.Commit()
				seq++
			}
		}(uint32(w))
	}

	next := make([]uint32, writers)
	received := 0
	handler := fragment.HandlerFunc(func(f fragment.Fragment) fragment.Result {
		writer := binary.LittleEndian.Uint32(f.Payload[0:4])
		seq := binary.LittleEndian.Uint32(f.Payload[4:8])
		if int32(writer) != f.StreamID {
			t.Errorf("stream id = %d, want writer %d", f.StreamID, writer)
		}
		if seq != next[writer] {
			t.Errorf("writer %d sequence = %d, want %d", writer, seq, next[writer])
		}
		next[writer] = seq + 1
		received++
		return fragment.Consume
	})

	for received < writers*perWriter {
		if ctx.Err() != nil {
			t.Fatalf("received %d of %d fragments before the deadline", received, writers*perWriter)
		}
		if sub.Poll(handler, 64) == 0 {
			time.Sleep(50 * time.Microsecond)
		}
	}
	wg.Wait()

	if got := d.RecordCount(); got != writers*perWriter {
		t.Errorf("RecordCount() = %d, want %d", got, writers*perWriter)
	}
}
