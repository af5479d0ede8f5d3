package playback

import (
	"context"
	"encoding/binary"
	"testing"
	"time"
)

func TestFakeRecordsPlays(t *testing.T) {
	f := NewFake()
	if err := f.Play(context.Background(), []byte{1, 0, 2, 0}, 16000); err != nil {
		t.Fatal(err)
	}
	if got := f.Played(); len(got) != 1 || len(got[0]) != 4 {
		t.Errorf("Played = %v", got)
	}
	if f.Rates()[0] != 16000 {
		t.Errorf("rate = %d", f.Rates()[0])
	}
}

func TestFakeHonorsContext(t *testing.T) {
	f := NewFake()
	f.Delay = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := f.Play(ctx, []byte{0, 0}, 16000); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCues(t *testing.T) {
	f := NewFake()
	PlayCue(f, CueListening)
	PlayCue(f, CueError)

	deadline := time.After(time.Second)
	for len(f.Played()) < 2 {
		select {
		case <-deadline:
			t.Fatal("cues never played")
		case <-time.After(time.Millisecond):
		}
	}

	// The error cue is a double beep with a silent gap in the middle.
	cueOnce.Do(initCues)
	pcm := cuePCM[CueError]
	mid := len(pcm) / 2
	if s := int16(binary.LittleEndian.Uint16(pcm[mid &^ 1:])); s != 0 {
		t.Errorf("gap sample = %d, want silence", s)
	}
	if s := int16(binary.LittleEndian.Uint16(pcm[2:])); s == 0 {
		t.Error("beep attack is silent")
	}
}
