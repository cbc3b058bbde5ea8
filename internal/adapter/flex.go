package adapter

import (
	"bytes"
	"encoding/json"
	"strconv"

	"vasset/crawler/internal/utils"
)

// flexInt 平台返回的计数有时是数字, 有时是 "1.2万"、"--" 之类的字符串
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexInt(utils.ParseCount(s))
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = flexInt(utils.NonNegative(int64(n)))
	return nil
}

// flexString 平台 ID 有时是数字, 有时是字符串
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}
