package subtitle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// utf8BOM 部分播放器依赖BOM才能正确识别编码
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteSRT 将字幕写为SRT文件：1起始连续序号、严格递增时间码、
// 空行分隔，可选BOM前缀。
func WriteSRT(cues []Cue, outputFile string) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("创建字幕目录失败: %w", err)
	}

	var b strings.Builder
	for i, cue := range cues {
		b.WriteString(fmt.Sprintf("%d\n", i+1))
		b.WriteString(fmt.Sprintf("%s --> %s\n", FormatSRTTime(cue.StartTime), FormatSRTTime(cue.EndTime)))
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}

	content := []byte(b.String())
	if useBOM() {
		content = append(append([]byte{}, utf8BOM...), content...)
	}

	if err := os.WriteFile(outputFile, content, 0644); err != nil {
		return fmt.Errorf("写入SRT文件失败: %w", err)
	}
	return nil
}

func useBOM() bool {
	if viper.IsSet("subtitle.bom") {
		return viper.GetBool("subtitle.bom")
	}
	return true
}
