package aiclient

import (
	"encoding/json"
	"strings"
)

// Part is one element of a multimodal message: text, an inline image, or an
// inline video clip. Marshals to the OpenAI content-array wire format.
type Part struct {
	kind    string
	text    string
	dataB64 string
	mime    string
	detail  string
}

const (
	partText  = "text"
	partImage = "image"
	partVideo = "video"
)

// Image detail levels. Low keeps token spend flat per frame; high is reserved
// for calls that carry reference images, where identity matching needs the
// resolution.
const (
	DetailLow  = "low"
	DetailHigh = "high"
)

func TextPart(text string) Part {
	return Part{kind: partText, text: text}
}

// ImagePart wraps a base64 JPEG/PNG. The MIME type is sniffed from the
// payload: PNG base64 always starts with "iVBO".
func ImagePart(b64, detail string) Part {
	mime := "image/jpeg"
	if strings.HasPrefix(b64, "iVBO") {
		mime = "image/png"
	}
	return Part{kind: partImage, dataB64: b64, mime: mime, detail: detail}
}

// VideoPart wraps a base64 mp4 clip for providers that accept video_url
// content.
func VideoPart(b64 string) Part {
	return Part{kind: partVideo, dataB64: b64, mime: "video/mp4"}
}

func (p Part) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case partImage:
		type imageURL struct {
			URL    string `json:"url"`
			Detail string `json:"detail,omitempty"`
		}
		return json.Marshal(struct {
			Type     string   `json:"type"`
			ImageURL imageURL `json:"image_url"`
		}{
			Type:     "image_url",
			ImageURL: imageURL{URL: "data:" + p.mime + ";base64," + p.dataB64, Detail: p.detail},
		})
	case partVideo:
		type videoURL struct {
			URL string `json:"url"`
		}
		return json.Marshal(struct {
			Type     string   `json:"type"`
			VideoURL videoURL `json:"video_url"`
		}{
			Type:     "video_url",
			VideoURL: videoURL{URL: "data:" + p.mime + ";base64," + p.dataB64},
		})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{Type: "text", Text: p.text})
	}
}

// Message is one chat turn. A single text part marshals as a plain content
// string; anything else becomes a content array.
type Message struct {
	Role  string
	Parts []Part
}

func UserMessage(parts ...Part) Message { return Message{Role: "user", Parts: parts} }

func SystemMessage(text string) Message {
	return Message{Role: "system", Parts: []Part{TextPart(text)}}
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 && m.Parts[0].kind == partText {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: m.Role, Content: m.Parts[0].text})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content []Part `json:"content"`
	}{Role: m.Role, Content: m.Parts})
}
