package yandex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/ocr"
	"mistakepatch/api/internal/util"
)

const recognizeURL = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"

type Engine struct {
	iamc     *IamClient
	folderID string
	httpc    *http.Client
	endpoint string
	langs    []string
}

func New(oauth2Token, folderID string) *Engine {
	return &Engine{
		iamc:     NewIamClient(oauth2Token),
		folderID: folderID,
		httpc:    &http.Client{Timeout: 60 * time.Second},
		endpoint: recognizeURL,
		langs:    []string{"ko", "en"},
	}
}

func (e *Engine) Name() string { return "yandex" }

type request struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType,omitempty"`      // "JPEG" | "PNG" | "PDF"
	LanguageCodes []string `json:"languageCodes,omitempty"` // ["ko","en"]
	Model         string   `json:"model,omitempty"`         // "handwritten" | "page"
}

type vertex struct {
	X json.Number `json:"x"`
	Y json.Number `json:"y"`
}

type textLine struct {
	Text        string `json:"text,omitempty"`
	BoundingBox struct {
		Vertices []vertex `json:"vertices"`
	} `json:"boundingBox"`
}

type textAnnotation struct {
	Width    json.Number `json:"width"`
	Height   json.Number `json:"height"`
	FullText string      `json:"fullText,omitempty"`
	Blocks   []struct {
		Lines []textLine `json:"lines,omitempty"`
	} `json:"blocks,omitempty"`
}

type response struct {
	Result *struct {
		TextAnnotation *textAnnotation `json:"textAnnotation,omitempty"`
	} `json:"result,omitempty"`
}

func (r *response) annotation() *textAnnotation {
	if r == nil || r.Result == nil {
		return nil
	}
	return r.Result.TextAnnotation
}

func num(n json.Number) float64 {
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0
	}
	return f
}

// normalizedBox turns pixel vertices into a center/size box in [0,1].
func normalizedBox(vs []vertex, width, height float64) *grading.LineBox {
	if len(vs) == 0 || width <= 0 || height <= 0 {
		return nil
	}
	x0, y0 := num(vs[0].X), num(vs[0].Y)
	x1, y1 := x0, y0
	for _, v := range vs[1:] {
		x, y := num(v.X), num(v.Y)
		x0, x1 = min(x0, x), max(x1, x)
		y0, y1 = min(y0, y), max(y1, y)
	}
	if x1 <= x0 || y1 <= y0 {
		return nil
	}
	return &grading.LineBox{
		X: grading.Round4(grading.Clamp((x0+x1)/2/width, 0, 1)),
		Y: grading.Round4(grading.Clamp((y0+y1)/2/height, 0, 1)),
		W: grading.Round4(grading.Clamp((x1-x0)/width, 0, 1)),
		H: grading.Round4(grading.Clamp((y1-y0)/height, 0, 1)),
	}
}

func (e *Engine) Read(ctx context.Context, image []byte) (ocr.Page, error) {
	iamToken, err := e.iamc.Token(ctx)
	if err != nil {
		return ocr.Page{}, err
	}
	payload, _ := json.Marshal(request{
		Content:       base64.StdEncoding.EncodeToString(image),
		MimeType:      util.SniffMimeForOCR(image),
		LanguageCodes: e.langs,
		Model:         "handwritten",
	})

	resp, err := e.post(ctx, payload, iamToken)
	if err != nil {
		return ocr.Page{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		// single retry with a refreshed token
		e.iamc.Reset()
		if iamToken, err = e.iamc.Token(ctx); err != nil {
			return ocr.Page{}, err
		}
		if resp, err = e.post(ctx, payload, iamToken); err != nil {
			return ocr.Page{}, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ocr.Page{}, fmt.Errorf("yandex ocr %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ocr.Page{}, fmt.Errorf("yandex ocr: bad JSON: %w", err)
	}
	ta := out.annotation()
	if ta == nil {
		return ocr.Page{}, nil
	}

	w, h := num(ta.Width), num(ta.Height)
	page := ocr.Page{Text: strings.TrimSpace(ta.FullText)}
	for _, b := range ta.Blocks {
		for _, l := range b.Lines {
			s := strings.TrimSpace(l.Text)
			if s == "" {
				continue
			}
			page.Lines = append(page.Lines, ocr.Line{Text: s, Box: normalizedBox(l.BoundingBox.Vertices, w, h)})
		}
	}
	return page, nil
}

func (e *Engine) post(ctx context.Context, payload []byte, iamToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+iamToken)
	req.Header.Set("x-folder-id", e.folderID)
	return e.httpc.Do(req)
}
