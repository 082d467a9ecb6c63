package sora

import (
	"encoding/json"
	"strconv"
	"strings"

	"spica/internal/model"
)

// ExtractJSONObject 从可能夹杂说明文字或代码围栏的文本中找出第一个顶层JSON对象
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end, ok := matchBrace(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	// 括号不平衡时退回到第一个 { 到最后一个 } 的区间
	first, last := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
	if first >= 0 && last > first && json.Valid([]byte(text[first:last+1])) {
		return text[first : last+1], true
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

type wireSegment struct {
	Title   string          `json:"title"`
	Seconds json.RawMessage `json:"seconds"`
	Prompt  string          `json:"prompt"`
}

// DecodeSegments 解析 {"segments":[...]}，seconds 仅作参考，解析失败时置0
func DecodeSegments(op, text string) ([]model.RawSegment, error) {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return nil, &model.MalformedResponse{Op: op, Reason: "no JSON object in planner reply", Raw: truncate(text, 512)}
	}
	var payload struct {
		Segments *[]wireSegment `json:"segments"`
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, &model.MalformedResponse{Op: op, Reason: err.Error(), Raw: truncate(obj, 512)}
	}
	if payload.Segments == nil {
		return nil, &model.MalformedResponse{Op: op, Reason: `missing "segments"`, Raw: truncate(obj, 512)}
	}
	out := make([]model.RawSegment, 0, len(*payload.Segments))
	for _, s := range *payload.Segments {
		out = append(out, model.RawSegment{Title: s.Title, Seconds: parseSeconds(s.Seconds), Prompt: s.Prompt})
	}
	return out, nil
}

func parseSeconds(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return 0
}
