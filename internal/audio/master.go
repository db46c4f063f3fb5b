package audio

import "fmt"

// MasterBuffer 主时间线缓冲。各轨道以浮点累加叠入，最终统一截幅渲染为
// 16bit PCM，避免多轨叠加时中间结果溢出。
type MasterBuffer struct {
	format Format
	buf    []float32 // 交织浮点累加缓冲
}

// NewMasterBuffer 按指定格式和帧数分配主缓冲
func NewMasterBuffer(f Format, frames int) *MasterBuffer {
	return &MasterBuffer{
		format: f,
		buf:    make([]float32, frames*f.Channels),
	}
}

// Format 主缓冲格式
func (m *MasterBuffer) Format() Format {
	return m.format
}

// Frames 主缓冲帧数
func (m *MasterBuffer) Frames() int {
	return len(m.buf) / m.format.Channels
}

// Seconds 主缓冲时长秒数
func (m *MasterBuffer) Seconds() float64 {
	return m.format.Duration(m.Frames())
}

// AddClip 将片段按固定增益叠入主缓冲，startFrame为主时间线上的起始帧。
// 超出主缓冲末尾的部分会被截断。
func (m *MasterBuffer) AddClip(startFrame int, clip *Clip, gain float64) error {
	return m.AddClipEnvelope(startFrame, clip, func(int) float64 { return gain })
}

// AddClipEnvelope 将片段按逐帧增益包络叠入主缓冲。envelope的参数是
// 片段内的帧下标，返回该帧的线性增益。
func (m *MasterBuffer) AddClipEnvelope(startFrame int, clip *Clip, envelope func(frame int) float64) error {
	if clip.Format != m.format {
		return fmt.Errorf("片段格式 %s 与主缓冲格式 %s 不一致", clip.Format, m.format)
	}
	if startFrame < 0 {
		startFrame = 0
	}
	ch := m.format.Channels
	frames := clip.Frames()
	for fr := 0; fr < frames; fr++ {
		dst := (startFrame + fr) * ch
		if dst >= len(m.buf) {
			break
		}
		g := float32(envelope(fr))
		if g == 0 {
			continue
		}
		src := fr * ch
		for c := 0; c < ch; c++ {
			m.buf[dst+c] += sampleToFloat(clip.Samples[src+c]) * g
		}
	}
	return nil
}

// Render 截幅并渲染为16bit PCM片段
func (m *MasterBuffer) Render() *Clip {
	out := make([]int16, len(m.buf))
	for i, t := range m.buf {
		out[i] = floatToSample(t)
	}
	return &Clip{Format: m.format, Samples: out}
}
