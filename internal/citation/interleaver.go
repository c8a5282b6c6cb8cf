// Package citation 把语言模型的 token 流与检索来源交织成流式事件。
package citation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/log"
)

const (
	minSentenceRunes  = 10
	fallbackWordEvery = 10
	previewRunes      = 200
	sentenceEndings   = ".。!?！？"
)

// State 是单次请求的交织状态。
type State int

const (
	StateStreaming State = iota
	StateFlushRemaining
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "STREAMING"
	case StateFlushRemaining:
		return "FLUSH_REMAINING"
	case StateDone:
		return "DONE"
	case StateErrored:
		return "ERRORED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Generator 是交织器依赖的语言模型能力，llm.Client 满足该接口。
type Generator interface {
	Stream(ctx context.Context, messages []llm.Message, onToken func(string) error) error
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// EmitFunc 把事件写给客户端，返回错误表示客户端已断开。
type EmitFunc func(model.StreamEvent) error

// Result 汇总一次交织的结果。
type Result struct {
	Answer    string
	Citations int
	State     State
	Fallback  bool
	Err       error
}

// Interleaver 是单次请求的状态机，不可复用。
type Interleaver struct {
	gen     Generator
	sources []model.Source
	emit    EmitFunc

	state  State
	next   int
	buffer strings.Builder
	answer strings.Builder
}

func NewInterleaver(gen Generator, sources []model.Source, emit EmitFunc) *Interleaver {
	return &Interleaver{gen: gen, sources: sources, emit: emit, state: StateStreaming}
}

// emitFailure 标记客户端写入失败，与模型错误区分开。
type emitFailure struct{ err error }

func (e *emitFailure) Error() string { return e.err.Error() }
func (e *emitFailure) Unwrap() error { return e.err }

// Run 驱动一次生成：token 立即以 text 事件下发，句末插入下一条引用；
// 流式失败时退化为一次性生成并按词模拟流式；结束后补齐剩余引用并发送 done。
// 模型最终失败时发送 error 事件，不作为返回错误。
// 只有客户端写入失败或 ctx 取消时才返回 error。
func (it *Interleaver) Run(ctx context.Context, messages []llm.Message, conversationID string) (Result, error) {
	streamErr := it.gen.Stream(ctx, messages, it.onToken)

	var ef *emitFailure
	if errors.As(streamErr, &ef) {
		return it.result(false, nil), ef.err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return it.result(false, nil), ctxErr
	}

	fallback := false
	if streamErr != nil {
		log.Warnf("[Interleaver] 流式生成失败，退化为一次性生成: %v", streamErr)
		fallback = true
		answer, err := it.gen.Complete(ctx, messages)
		if err != nil {
			it.state = StateErrored
			log.Errorf("[Interleaver] 生成失败: %v", err)
			if emitErr := it.emit(model.ErrorEvent("Error: " + err.Error())); emitErr != nil {
				return it.result(true, err), emitErr
			}
			return it.result(true, err), nil
		}
		it.answer.Reset()
		if err := it.simulate(answer); err != nil {
			return it.result(true, nil), err
		}
	}

	it.state = StateFlushRemaining
	for it.next < len(it.sources) {
		if err := it.cite(); err != nil {
			return it.result(fallback, nil), err
		}
	}

	it.state = StateDone
	if err := it.emit(model.DoneEvent(conversationID)); err != nil {
		return it.result(fallback, nil), err
	}
	return it.result(fallback, nil), nil
}

func (it *Interleaver) result(fallback bool, err error) Result {
	return Result{
		Answer:    it.answer.String(),
		Citations: it.next,
		State:     it.state,
		Fallback:  fallback,
		Err:       err,
	}
}

func (it *Interleaver) onToken(token string) error {
	if token == "" {
		return nil
	}
	it.answer.WriteString(token)
	it.buffer.WriteString(token)
	if err := it.emit(model.TextEvent(token)); err != nil {
		return &emitFailure{err: err}
	}

	if utf8.RuneCountInString(it.buffer.String()) <= minSentenceRunes || !endsSentence(it.buffer.String()) {
		return nil
	}
	if it.next < len(it.sources) {
		if err := it.cite(); err != nil {
			return &emitFailure{err: err}
		}
	}
	it.buffer.Reset()
	return nil
}

// simulate 按空格拆词逐个下发，每 10 个词插入一条引用。
func (it *Interleaver) simulate(answer string) error {
	words := strings.Split(answer, " ")
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		it.answer.WriteString(word)
		if err := it.emit(model.TextEvent(word)); err != nil {
			return err
		}
		if (i+1)%fallbackWordEvery == 0 && it.next < len(it.sources) {
			if err := it.cite(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (it *Interleaver) cite() error {
	src := it.sources[it.next]
	ev := model.CitationEvent(it.next, src, Preview(src.Content))
	it.next++
	return it.emit(ev)
}

func endsSentence(s string) bool {
	trimmed := strings.TrimRight(s, " \t\r\n")
	if trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return strings.ContainsRune(sentenceEndings, last)
}

// Preview 截取前 200 个字符，超出部分以 "..." 表示。
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + "..."
}
