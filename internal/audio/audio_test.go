package audio

import (
	"math"
	"testing"
)

// TestWAVRoundTrip 编码再解码后格式与采样保持一致
func TestWAVRoundTrip(t *testing.T) {
	clip := &Clip{
		Format:  Format{SampleRate: 8000, Channels: 1},
		Samples: []int16{0, 100, -100, 32767, -32768, 5},
	}

	decoded, err := DecodeWAV(EncodeWAV(clip))
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if decoded.Format != clip.Format {
		t.Errorf("格式 = %v, 期望 %v", decoded.Format, clip.Format)
	}
	if len(decoded.Samples) != len(clip.Samples) {
		t.Fatalf("采样数 = %d, 期望 %d", len(decoded.Samples), len(clip.Samples))
	}
	for i := range clip.Samples {
		if decoded.Samples[i] != clip.Samples[i] {
			t.Errorf("采样 %d = %d, 期望 %d", i, decoded.Samples[i], clip.Samples[i])
		}
	}
}

// TestDecodeWAVMalformed 非法输入必须报错而不是崩溃
func TestDecodeWAVMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("太短"),
		[]byte("RIFFxxxxNOPE" + string(make([]byte, 64))),
	}
	for i, data := range cases {
		if _, err := DecodeWAV(data); err == nil {
			t.Errorf("用例 %d 期望报错", i)
		}
	}
}

// TestClipSeconds 时长换算
func TestClipSeconds(t *testing.T) {
	clip := NewSilence(Format{SampleRate: 8000, Channels: 2}, 1.5)
	if len(clip.Samples) != 8000*2*3/2 {
		t.Errorf("静音采样数 = %d, 期望 %d", len(clip.Samples), 8000*3)
	}
	if math.Abs(clip.Seconds()-1.5) > 1e-9 {
		t.Errorf("时长 = %.4f, 期望 1.5", clip.Seconds())
	}
}

// TestMasterBufferMix 两轨叠加与截幅
func TestMasterBufferMix(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	m := NewMasterBuffer(f, 4)

	a := &Clip{Format: f, Samples: []int16{16000, 16000, 16000, 16000}}
	b := &Clip{Format: f, Samples: []int16{16000, 16000}}

	if err := m.AddClip(0, a, 1.0); err != nil {
		t.Fatal(err)
	}
	if err := m.AddClip(2, b, 1.0); err != nil {
		t.Fatal(err)
	}

	out := m.Render()
	// 前两帧只有a轨
	if out.Samples[0] != 16000 {
		t.Errorf("帧0 = %d, 期望 16000", out.Samples[0])
	}
	// 后两帧两轨叠加，近似翻倍（浮点往返有±1量化误差）
	if d := int(out.Samples[2]) - 32000; d < -2 || d > 2 {
		t.Errorf("帧2 = %d, 期望约 32000", out.Samples[2])
	}

	// 叠加到超过满幅要截幅
	m2 := NewMasterBuffer(f, 1)
	c := &Clip{Format: f, Samples: []int16{32767}}
	m2.AddClip(0, c, 1.0)
	m2.AddClip(0, c, 1.0)
	if got := m2.Render().Samples[0]; got != 32767 {
		t.Errorf("截幅输出 = %d, 期望 32767", got)
	}
}

// TestAddClipEnvelope 包络逐帧生效
func TestAddClipEnvelope(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	m := NewMasterBuffer(f, 2)
	c := &Clip{Format: f, Samples: []int16{20000, 20000}}

	err := m.AddClipEnvelope(0, c, func(fr int) float64 {
		if fr == 0 {
			return 0
		}
		return 0.5
	})
	if err != nil {
		t.Fatal(err)
	}

	out := m.Render()
	if out.Samples[0] != 0 {
		t.Errorf("帧0 = %d, 期望 0", out.Samples[0])
	}
	if d := int(out.Samples[1]) - 10000; d < -2 || d > 2 {
		t.Errorf("帧1 = %d, 期望约 10000", out.Samples[1])
	}
}

// TestFormatMismatch 格式不一致要直接报错
func TestFormatMismatch(t *testing.T) {
	m := NewMasterBuffer(Format{SampleRate: 8000, Channels: 1}, 10)
	c := &Clip{Format: Format{SampleRate: 44100, Channels: 1}, Samples: []int16{1}}
	if err := m.AddClip(0, c, 1.0); err == nil {
		t.Error("采样率不一致期望报错")
	}
}
