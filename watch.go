package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"crosscopy/history"
)

var watchCmd = &cobra.Command{
	Use:   "watch [phrase...]",
	Short: "Show how many devices listen on each phrase until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "watch")
		if err != nil {
			return err
		}
		defer closeApp(a)

		phrases := args
		if len(phrases) == 0 {
			phrases = a.Phrases()
		}
		if len(phrases) == 0 {
			return fmt.Errorf("no phrases given and history is empty")
		}

		board := newListenerBoard(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
		for _, phrase := range phrases {
			secret, err := a.Open(phrase)
			if err != nil {
				return err
			}
			board.update(secret)
			unsubscribe := secret.Subscribe(board.update)
			defer unsubscribe()
		}

		<-ctx.Done()
		board.finish()
		return nil
	},
}

// listenerBoard prints listener counts. On a terminal it redraws one status
// line; otherwise it appends a line per change.
type listenerBoard struct {
	mu     sync.Mutex
	out    io.Writer
	inline bool
	counts map[string]int
}

func newListenerBoard(out io.Writer, inline bool) *listenerBoard {
	return &listenerBoard{out: out, inline: inline, counts: make(map[string]int)}
}

func (b *listenerBoard) update(secret *history.Secret) {
	b.render(secret.Phrase(), secret.ListenersCount())
}

func (b *listenerBoard) render(phrase string, count int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if previous, ok := b.counts[phrase]; ok && previous == count {
		return
	}
	b.counts[phrase] = count

	if !b.inline {
		fmt.Fprintf(b.out, "%s\t%d\n", phrase, count)
		return
	}

	phrases := make([]string, 0, len(b.counts))
	for p := range b.counts {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)

	parts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		parts = append(parts, fmt.Sprintf("%s: %d", p, b.counts[p]))
	}
	fmt.Fprintf(b.out, "\r\033[K%s", strings.Join(parts, "  "))
}

func (b *listenerBoard) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inline {
		fmt.Fprintln(b.out)
	}
}
