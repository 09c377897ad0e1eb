package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/pipeline"
	"mistakepatch/api/internal/store"
	"mistakepatch/api/internal/util"
)

func isProblemCaption(caption string) bool {
	return strings.HasPrefix(strings.TrimSpace(caption), "/problem")
}

func (r *Router) acceptPhoto(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := msg.Photo[len(msg.Photo)-1]
	url, err := r.Bot.GetFileDirectURL(ph.FileID)
	if err != nil {
		r.sendError(cid, err)
		return
	}
	data, err := r.download(ctx, url)
	if err != nil {
		r.sendError(cid, err)
		return
	}

	if isProblemCaption(msg.Caption) {
		setProblem(cid, data)
		r.send(cid, "문제 이미지를 받았습니다. 이제 풀이 사진을 보내주세요.")
		return
	}
	r.send(cid, "풀이를 받았습니다. 채점 중입니다…")

	st, err := r.grade(ctx, cid, data, takeProblem(cid))
	if err != nil {
		r.sendError(cid, err)
		return
	}
	r.send(cid, formatResult(st.Result, st.FallbackUsed))
}

// grade stores the images, creates the records and runs the job inline.
func (r *Router) grade(ctx context.Context, chatID int64, solution, problem []byte) (*pipeline.State, error) {
	solPath, err := r.save(solution)
	if err != nil {
		return nil, fmt.Errorf("save solution: %w", err)
	}
	var probPath string
	if problem != nil {
		if probPath, err = r.save(problem); err != nil {
			return nil, fmt.Errorf("save problem: %w", err)
		}
	}

	uid := fmt.Sprintf("tg_%d", chatID)
	sid, err := r.Repo.CreateSubmission(ctx, store.Submission{
		UserID: uid, Subject: "math", SolutionPath: solPath, ProblemPath: probPath,
	})
	if err != nil {
		return nil, err
	}
	aid, err := r.Repo.CreateAnalysis(ctx, sid)
	if err != nil {
		return nil, err
	}
	return r.Proc.Process(ctx, pipeline.Job{
		AnalysisID:    aid,
		SubmissionID:  sid,
		UserID:        uid,
		Subject:       "math",
		HighlightMode: grading.ModeTap,
		SolutionPath:  solPath,
		ProblemPath:   probPath,
	})
}

func (r *Router) save(data []byte) (string, error) {
	dir := r.UploadDir
	if dir == "" {
		dir = "data/uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	mime, _ := util.SniffImageMime(data)
	path := filepath.Join(dir, strings.TrimPrefix(util.NewID("tg"), "tg_")+util.ExtForMime(mime))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	if r.Download != nil {
		return r.Download(ctx, url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
