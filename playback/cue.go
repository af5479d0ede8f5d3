package playback

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
)

// Short earcons marking turn boundaries so the user hears when the agent
// starts and stops listening.
const cueSampleRate = 16000

type Cue int

const (
	CueListening Cue = iota // high tick, capture started
	CueDone                 // lower tick, utterance finalized
	CueError                // low double beep
)

var (
	cueOnce sync.Once
	cuePCM  map[Cue][]byte
)

func initCues() {
	cuePCM = map[Cue][]byte{
		CueListening: tick(1200, 0.2, 0.5, 60),
		CueDone:      tick(900, 0.2, 0.5, 40),
		CueError:     doubleBeep(350, 0.08, 0.05, 0.6, 30),
	}
}

func tick(freq, duration, volume, decay float64) []byte {
	n := int(cueSampleRate * duration)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / cueSampleRate
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []byte {
	beep := tick(freq, beepDur, volume, decay)
	gap := make([]byte, int(cueSampleRate*gapDur)*2)
	out := make([]byte, 0, len(beep)*2+len(gap))
	out = append(out, beep...)
	out = append(out, gap...)
	out = append(out, beep...)
	return out
}

// PlayCue renders an earcon without blocking the caller.
func PlayCue(p Player, c Cue) {
	cueOnce.Do(initCues)
	pcm := cuePCM[c]
	if p == nil || len(pcm) == 0 {
		return
	}
	go p.Play(context.Background(), pcm, cueSampleRate)
}
