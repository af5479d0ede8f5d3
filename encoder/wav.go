package encoder

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

type WavEncoder struct {
	buf         bytes.Buffer
	totalFrames uint64
}

func NewWav() *WavEncoder {
	e := &WavEncoder{}
	// Header placeholder; sizes are patched in Close.
	e.buf.Write(make([]byte, wavHeaderSize))
	return e
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	data := make([]byte, len(block)*2)
	for i, s := range block {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	e.buf.Write(data)
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WavEncoder) Close() error {
	buf := e.buf.Bytes()
	dataSize := len(buf) - wavHeaderSize

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], SampleRate*Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[32:34], Channels*BitsPerSample/8) // block align
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return nil
}

func (e *WavEncoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *WavEncoder) TotalFrames() uint64 {
	return e.totalFrames
}
