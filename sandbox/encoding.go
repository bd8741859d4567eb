package sandbox

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"
)

// Encoding 文件内容编码
type Encoding string

const (
	// EncodingRawText 原始 UTF-8 文本
	EncodingRawText Encoding = "utf-8"
	// EncodingBase64 Base64 编码的二进制内容
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding 解析编码名称，空字符串视为 EncodingRawText
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "", "utf-8", "utf8", "text", "raw":
		return EncodingRawText, nil
	case "base64":
		return EncodingBase64, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", name)
	}
}

// Decode 按编码将内容还原为字节
func (e Encoding) Decode(content string) ([]byte, error) {
	switch e {
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(content)
	case EncodingRawText, "":
		return []byte(content), nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", string(e))
	}
}

// EncodeBytes 选择能无损表示 b 的编码
func EncodeBytes(b []byte) (string, Encoding) {
	if utf8.Valid(b) {
		return string(b), EncodingRawText
	}
	return base64.StdEncoding.EncodeToString(b), EncodingBase64
}
