package history

// History is the ordered set of Secrets known to this client and the unit of
// persistence. It has no locking of its own; callers that share a History
// across goroutines serialize access themselves.
type History struct {
	Secrets []*Secret
}

func NewHistory() *History {
	return &History{}
}

func (h *History) Len() int {
	return len(h.Secrets)
}

// Add appends secret. Duplicate phrases are allowed.
func (h *History) Add(secret *Secret) {
	if secret == nil {
		return
	}
	h.Secrets = append(h.Secrets, secret)
}

// Find returns the first Secret with the given phrase, or nil.
func (h *History) Find(phrase string) *Secret {
	for _, secret := range h.Secrets {
		if secret.phrase == phrase {
			return secret
		}
	}
	return nil
}

// Remove drops every Secret with the given phrase and stops their watch loops.
// It returns the number removed.
func (h *History) Remove(phrase string) int {
	kept := h.Secrets[:0]
	removed := 0
	for _, secret := range h.Secrets {
		if secret.phrase == phrase {
			secret.StopWatching()
			removed++
			continue
		}
		kept = append(kept, secret)
	}
	for i := len(kept); i < len(h.Secrets); i++ {
		h.Secrets[i] = nil
	}
	h.Secrets = kept
	return removed
}

func (h *History) Phrases() []string {
	out := make([]string, 0, len(h.Secrets))
	for _, secret := range h.Secrets {
		out = append(out, secret.phrase)
	}
	return out
}

// StopAll stops every watch loop and returns a channel closed once all of them
// have exited.
func (h *History) StopAll() <-chan struct{} {
	pending := make([]<-chan struct{}, 0, len(h.Secrets))
	for _, secret := range h.Secrets {
		pending = append(pending, secret.StopWatching())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range pending {
			<-ch
		}
	}()
	return done
}
