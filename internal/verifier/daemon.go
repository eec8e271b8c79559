package verifier

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Start runs the verification loop until the context is cancelled or
// Stop is called. Cycles run sequentially; the wait between them is
// the adaptive interval, so an idle system is polled progressively
// less often and a busy one at the base cadence.
func (v *Verifier) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return fmt.Errorf("backup verifier is already running")
	}
	if !v.enabled {
		v.mu.Unlock()
		return fmt.Errorf("backup verifier is disabled")
	}
	v.running = true
	v.stopCh = make(chan struct{})
	v.interval = v.base
	v.mu.Unlock()

	log.Printf("verifier: started: base=%v, max=%v, voice_notes=%v", v.base, v.max, v.voice)

	timer := time.NewTimer(v.base)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("verifier: stopping (context cancelled)")
			return ctx.Err()

		case <-v.stopCh:
			log.Println("verifier: stopping (stop requested)")
			return nil

		case <-timer.C:
			st, err := v.RunCycle(ctx)
			if err != nil {
				log.Printf("verifier: cycle failed: %v", err)
			} else {
				log.Printf("verifier: cycle done: status=%s, snapshots=%d, failed=%d, voice_notes=%d",
					st.Status, st.CheckedSnapshots, st.FailedSnapshots, st.VoiceNotesChecked)
			}
			timer.Reset(v.Interval())
		}
	}
}

// Stop ends the loop gracefully.
func (v *Verifier) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.running {
		return fmt.Errorf("backup verifier is not running")
	}
	close(v.stopCh)
	v.running = false
	return nil
}
