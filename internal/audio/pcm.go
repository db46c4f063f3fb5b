/*PCM音频基础类型*/
package audio

import "fmt"

// Format PCM格式：采样率与声道数，位深固定16bit
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels)
}

// FramesInSeconds 给定秒数包含的帧数
func (f Format) FramesInSeconds(sec float64) int {
	return int(sec * float64(f.SampleRate))
}

// Duration 给定帧数对应的时长秒数
func (f Format) Duration(frames int) float64 {
	return float64(frames) / float64(f.SampleRate)
}

// Clip 一段交织排列的16bit PCM音频
type Clip struct {
	Format  Format
	Samples []int16 // 交织采样，长度 = 帧数 * 声道数
}

// Frames 帧数
func (c *Clip) Frames() int {
	if c.Format.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Seconds 时长秒数
func (c *Clip) Seconds() float64 {
	return c.Format.Duration(c.Frames())
}

// NewSilence 指定时长的静音片段
func NewSilence(f Format, seconds float64) *Clip {
	return &Clip{
		Format:  f,
		Samples: make([]int16, f.FramesInSeconds(seconds)*f.Channels),
	}
}

// sampleToFloat 16bit采样转[-1,1]浮点，正负分别按32767/32768缩放
func sampleToFloat(s int16) float32 {
	v := float32(s)
	if v >= 0 {
		return v / 32767
	}
	return v / 32768
}

// floatToSample 浮点转16bit采样，先截幅防止溢出
func floatToSample(t float32) int16 {
	if t > 1 {
		t = 1
	} else if t < -1 {
		t = -1
	}
	if t >= 0 {
		return int16(t * 32767)
	}
	return int16(t * 32768)
}
