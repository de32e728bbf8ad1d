package orchestrator

import (
	"context"
	"sync"
	"time"

	"sunoman/logger"
	"sunoman/model"
	"sunoman/repository"
)

// Outcome 单次下载任务的结果分类
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

// Job 一次下载请求
type Job struct {
	SunoID string
	Format model.DownloadFormat // 为空时用设置里的格式
	Force  bool                 // 忽略已下载标记，强制重下
}

// Runner 执行一个 generation 的完整下载流水线
type Runner interface {
	Run(ctx context.Context, job Job) (Outcome, error)
}

// Report 一批下载任务的汇总结果
type Report struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// queueCapacity 等待队列上限，超出直接拒绝入队
const queueCapacity = 256

type queuedJob struct {
	job  Job
	done chan Outcome // nil 表示后台任务，不需要回执
}

// Coordinator 下载任务的单工作协程调度器。所有下载串行执行，
// 避免并发打满带宽和 ffmpeg；同一 sunoID 在途时重复入队直接跳过。
type Coordinator struct {
	runner Runner

	// Settings 可选，配置后任务之间按 item_delay 节流
	Settings repository.SettingsRepository

	mu       sync.Mutex
	inflight map[string]bool

	queue chan queuedJob
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewCoordinator(runner Runner) *Coordinator {
	return &Coordinator{
		runner:   runner,
		inflight: make(map[string]bool),
		queue:    make(chan queuedJob, queueCapacity),
		stop:     make(chan struct{}),
	}
}

// Start 启动工作协程，ctx 取消后在途任务收到取消信号
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case qj := <-c.queue:
				c.execute(ctx, qj)
				c.pause(ctx)
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止调度器，等待当前任务结束
func (c *Coordinator) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Coordinator) execute(ctx context.Context, qj queuedJob) {
	outcome, err := c.runner.Run(ctx, qj.job)
	if err != nil {
		outcome = OutcomeFailed
		logger.Error("下载任务失败",
			logger.String("sunoId", qj.job.SunoID),
			logger.ErrorField(err))
	}

	c.mu.Lock()
	delete(c.inflight, qj.job.SunoID)
	c.mu.Unlock()

	if qj.done != nil {
		qj.done <- outcome
	}
}

// pause 任务之间按设置的 item_delay 停顿
func (c *Coordinator) pause(ctx context.Context) {
	if c.Settings == nil {
		return
	}
	settings, err := c.Settings.Snapshot()
	if err != nil || settings.ItemDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-c.stop:
	case <-time.After(settings.ItemDelay):
	}
}

// tryReserve 占住一个 sunoID，已在途时失败
func (c *Coordinator) tryReserve(sunoID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[sunoID] {
		return false
	}
	c.inflight[sunoID] = true
	return true
}

func (c *Coordinator) release(sunoID string) {
	c.mu.Lock()
	delete(c.inflight, sunoID)
	c.mu.Unlock()
}

// Enqueue 后台入队一个下载任务。已在途或队列满时返回 false。
func (c *Coordinator) Enqueue(job Job) bool {
	if !c.tryReserve(job.SunoID) {
		return false
	}
	select {
	case c.queue <- queuedJob{job: job}:
		return true
	default:
		c.release(job.SunoID)
		logger.Warn("下载队列已满，放弃入队", logger.String("sunoId", job.SunoID))
		return false
	}
}

// RunBatch 同步执行一批下载并等待全部完成。任务仍然经过
// 同一个工作协程，和后台任务之间保持串行。
func (c *Coordinator) RunBatch(ctx context.Context, jobs []Job) Report {
	var report Report
	pending := make([]chan Outcome, 0, len(jobs))

	for _, job := range jobs {
		if !c.tryReserve(job.SunoID) {
			report.Skipped++
			continue
		}
		done := make(chan Outcome, 1)
		select {
		case c.queue <- queuedJob{job: job, done: done}:
			pending = append(pending, done)
		case <-ctx.Done():
			c.release(job.SunoID)
			report.Failed++
		}
	}

	for _, done := range pending {
		select {
		case outcome := <-done:
			switch outcome {
			case OutcomeDone:
				report.Succeeded++
			case OutcomeSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
		case <-ctx.Done():
			report.Failed++
		}
	}
	return report
}

// InFlight 某个 generation 是否正在下载或排队
func (c *Coordinator) InFlight(sunoID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[sunoID]
}
