package model

import (
	"bytes"
	"fmt"
	"time"
)

// ISOTime 以 ISO-8601 文本序列化时间，登记表文件依赖这一格式。
type ISOTime time.Time

// 兼容不带时区的 ISO-8601 文本（例如旧版登记表写入的 2024-05-01T10:00:00.123456）。
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Now 返回当前时间的 ISOTime。
func Now() ISOTime {
	return ISOTime(time.Now())
}

func (t ISOTime) Time() time.Time {
	return time.Time(t)
}

// String 返回 RFC3339Nano 格式的文本。
func (t ISOTime) String() string {
	return time.Time(t).Format(time.RFC3339Nano)
}

// MarshalJSON implements the json.Marshaler interface.
func (t ISOTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", t.String())), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *ISOTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	parsed, err := ParseISOTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseISOTime 依次尝试支持的 ISO-8601 变体。
func ParseISOTime(s string) (ISOTime, error) {
	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return ISOTime(parsed), nil
		}
	}
	return ISOTime{}, fmt.Errorf("无法解析时间 %q", s)
}
