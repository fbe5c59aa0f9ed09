package streaming

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemberStream drives one council member's provider stream, returning
// its accumulated text or an error on timeout/failure.
type MemberStream func(ctx context.Context, memberIndex int) (string, error)

// LeaderStream drives the leader synthesis stream over the composed
// leader prompt, returning its accumulated text.
type LeaderStream func(ctx context.Context, prompt string) (string, error)

// MemberOutcome records one member's result for frame emission.
type MemberOutcome struct {
	Index int
	Text  string
	Err   error
}

// CouncilEvent is one lifecycle event emitted while running a council
// round, in the order clients observe them on the wire:
// phase:members → member_complete/member_error (one per member) →
// phase:leader → leader tokens → done, with an optional
// phase:leader_retry inserted when the leader's first attempt is empty.
type CouncilEvent struct {
	Phase  string // "members", "member_complete", "member_error", "leader", "leader_retry", "done"
	Member int
	Text   string
	Err    error
}

// RunCouncil runs n member streams concurrently, each bounded by
// memberTimeout, then synthesizes a leader prompt from the anonymized,
// successful members' outputs and runs the leader stream bounded by
// leaderTimeout. If the leader's first attempt yields no tokens, it is
// retried exactly once.
//
// Cancelling ctx aborts every in-flight member and leader stream.
func RunCouncil(ctx context.Context, n int, memberTimeout, leaderTimeout time.Duration, member MemberStream, leader LeaderStream, events func(CouncilEvent)) (string, error) {
	if events == nil {
		events = func(CouncilEvent) {}
	}

	events(CouncilEvent{Phase: "members"})
	outcomes := make([]MemberOutcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			memberCtx, cancel := context.WithTimeout(ctx, memberTimeout)
			defer cancel()

			text, err := member(memberCtx, idx)
			outcomes[idx] = MemberOutcome{Index: idx, Text: text, Err: err}
			if err != nil {
				events(CouncilEvent{Phase: "member_error", Member: idx, Err: err})
			} else {
				events(CouncilEvent{Phase: "member_complete", Member: idx, Text: text})
			}
		}(i)
	}
	wg.Wait()

	prompt := synthesizeLeaderPrompt(outcomes)

	events(CouncilEvent{Phase: "leader"})
	leaderText, err := runLeaderOnce(ctx, leaderTimeout, prompt, leader)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(leaderText) == "" {
		events(CouncilEvent{Phase: "leader_retry"})
		leaderText, err = runLeaderOnce(ctx, leaderTimeout, prompt, leader)
		if err != nil {
			return "", err
		}
	}

	events(CouncilEvent{Phase: "done", Text: leaderText})
	return leaderText, nil
}

func runLeaderOnce(ctx context.Context, timeout time.Duration, prompt string, leader LeaderStream) (string, error) {
	leaderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return leader(leaderCtx, prompt)
}

// synthesizeLeaderPrompt composes the anonymized "Response 1..N" block
// the leader synthesizes over; failed members are recorded but do not
// abort the batch, and are simply omitted from the synthesis prompt.
func synthesizeLeaderPrompt(outcomes []MemberOutcome) string {
	var b strings.Builder
	b.WriteString("You are synthesizing the following independent responses into one final answer.\n\n")
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		fmt.Fprintf(&b, "Response %d:\n%s\n\n", o.Index+1, o.Text)
	}
	return b.String()
}
