/*WAV容器编解码*/
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DecodeWAV 解析RIFF/WAVE字节流为PCM片段。只支持16bit PCM编码，
// 其他编码（浮点、压缩）返回错误，由上层决定跳过或降级。
func DecodeWAV(data []byte) (*Clip, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("WAV数据过短: %d 字节", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("不是有效的RIFF/WAVE头")
	}

	var (
		format     Format
		bitDepth   int
		audioCodec uint16
		pcm        []byte
		haveFmt    bool
	)

	// 逐块扫描，兼容fmt和data之间夹杂LIST等扩展块的文件
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body // 容忍末块长度声明越界
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("fmt块过短: %d 字节", chunkSize)
			}
			audioCodec = binary.LittleEndian.Uint16(data[body : body+2])
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// 块按偶数字节对齐
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("缺少fmt块")
	}
	if pcm == nil {
		return nil, fmt.Errorf("缺少data块")
	}
	if audioCodec != 1 {
		return nil, fmt.Errorf("不支持的WAV编码类型: %d（仅支持PCM）", audioCodec)
	}
	if bitDepth != 16 {
		return nil, fmt.Errorf("不支持的位深: %d（仅支持16bit）", bitDepth)
	}
	if format.Channels < 1 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("非法的格式参数: %d声道 %dHz", format.Channels, format.SampleRate)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return &Clip{Format: format, Samples: samples}, nil
}

// EncodeWAV 将PCM片段编码为WAV字节流
func EncodeWAV(clip *Clip) []byte {
	dataSize := len(clip.Samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(clip.Format.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(clip.Format.SampleRate))
	byteRate := clip.Format.SampleRate * clip.Format.Channels * 2
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(clip.Format.Channels*2)) // 块对齐
	binary.Write(&buf, binary.LittleEndian, uint16(16))                     // 位深

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range clip.Samples {
		binary.Write(&buf, binary.LittleEndian, uint16(s))
	}
	return buf.Bytes()
}
