package parsers

import "fmt"

// UnsupportedFormatError 没有注册对应扩展名的解析器
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return "不支持的文件格式: 无扩展名"
	}
	return fmt.Sprintf("不支持的文件格式: %s", e.Ext)
}

// ExtractionError 解析器读取或解码失败
type ExtractionError struct {
	File string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("提取文本失败 %s: %v", e.File, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
