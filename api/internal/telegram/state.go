package telegram

import (
	"sync"
	"time"
)

const problemTTL = 30 * time.Minute

type pendingProblem struct {
	image []byte
	at    time.Time
}

var problems sync.Map // chatID -> pendingProblem

func setProblem(chatID int64, image []byte) {
	problems.Store(chatID, pendingProblem{image: image, at: time.Now()})
}

// takeProblem hands out the chat's problem image once; stale ones are dropped.
func takeProblem(chatID int64) []byte {
	v, ok := problems.LoadAndDelete(chatID)
	if !ok {
		return nil
	}
	p := v.(pendingProblem)
	if time.Since(p.at) > problemTTL {
		return nil
	}
	return p.image
}
