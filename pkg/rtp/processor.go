package rtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Состояния Processor
const (
	ProcessorStateIdle    = "idle"
	ProcessorStateRunning = "running"
	ProcessorStateStopped = "stopped"
)

// ProcessorConfig параметры Processor
type ProcessorConfig struct {
	Input  ProcessorInputStream
	Output ProcessorOutputStream
	Chain  *CodecChain

	// Name метка потока для логов и метрик, например "audio-in"
	Name string

	// LockOSThread закрепляет рабочую горутину за потоком ОС
	LockOSThread bool

	Logger  *slog.Logger
	Metrics *Metrics
}

// Processor рабочий цикл одного RTP потока: читает буфер из входного
// потока, пропускает через цепочку кодеков и пишет результат в выходной.
//
// Жизненный цикл: idle -> running -> stopped. Остановленный Processor
// не перезапускается, для новой сессии создается новый экземпляр.
type Processor struct {
	id     string
	name   string
	input  ProcessorInputStream
	output ProcessorOutputStream
	chain  *CodecChain

	lockThread bool
	logger     *slog.Logger
	metrics    *Metrics

	state       *fsm.FSM
	interrupted atomic.Bool
	done        chan struct{}

	mu  sync.Mutex
	err error
}

// NewProcessor создает Processor в состоянии idle
func NewProcessor(config ProcessorConfig) (*Processor, error) {
	if config.Input == nil {
		return nil, fmt.Errorf("входной поток не задан")
	}
	if config.Output == nil {
		return nil, fmt.Errorf("выходной поток не задан")
	}
	if config.Chain == nil {
		config.Chain = NewCodecChain()
	}
	if config.Name == "" {
		config.Name = "stream"
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	return &Processor{
		id:         id,
		name:       config.Name,
		input:      config.Input,
		output:     config.Output,
		chain:      config.Chain,
		lockThread: config.LockOSThread,
		logger: logger.With(
			slog.String("component", "rtp_processor"),
			slog.String("processor_id", id),
			slog.String("stream", config.Name),
		),
		metrics: config.Metrics,
		state:   newProcessorFSM(),
		done:    make(chan struct{}),
	}, nil
}

func newProcessorFSM() *fsm.FSM {
	return fsm.NewFSM(
		ProcessorStateIdle,
		fsm.Events{
			{Name: "start", Src: []string{ProcessorStateIdle}, Dst: ProcessorStateRunning},
			{Name: "stop", Src: []string{ProcessorStateIdle, ProcessorStateRunning}, Dst: ProcessorStateStopped},
		}, nil,
	)
}

// ID уникальный идентификатор процессора
func (p *Processor) ID() string { return p.id }

// Name метка потока
func (p *Processor) Name() string { return p.name }

// State текущее состояние
func (p *Processor) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Current()
}

// Start запускает ровно одну рабочую горутину.
// Повторный вызов возвращает ErrProcessorAlreadyStarted.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state.Current() {
	case ProcessorStateRunning:
		return ErrProcessorAlreadyStarted
	case ProcessorStateStopped:
		return ErrProcessorStopped
	}

	if err := p.state.Event(context.Background(), "start"); err != nil {
		return fmt.Errorf("ошибка перехода в running: %w", err)
	}

	p.interrupted.Store(false)
	go p.run()

	p.logger.Debug("процессор запущен", slog.Any("codecs", p.chain.Names()))
	return nil
}

// Stop выставляет флаг прерывания и закрывает оба потока, что снимает
// блокировку ожидающего Read. Возвращает управление после завершения
// рабочей горутины. Повторный вызов безопасен.
func (p *Processor) Stop() error {
	p.mu.Lock()
	current := p.state.Current()
	if current == ProcessorStateStopped {
		p.mu.Unlock()
		return nil
	}
	if err := p.state.Event(context.Background(), "stop"); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("ошибка перехода в stopped: %w", err)
	}
	p.interrupted.Store(true)
	p.mu.Unlock()

	var errs []error
	if err := p.input.Close(); err != nil {
		errs = append(errs, fmt.Errorf("закрытие входного потока: %w", err))
	}
	if err := p.output.Close(); err != nil {
		errs = append(errs, fmt.Errorf("закрытие выходного потока: %w", err))
	}

	if current == ProcessorStateRunning {
		<-p.done
	} else {
		close(p.done)
	}

	if err := p.chain.Close(); err != nil {
		errs = append(errs, fmt.Errorf("закрытие кодеков: %w", err))
	}

	p.logger.Debug("процессор остановлен")
	return errors.Join(errs...)
}

// Done закрывается после завершения рабочей горутины
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// Err ошибка, завершившая рабочий цикл, или nil
func (p *Processor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Processor) run() {
	defer close(p.done)

	if p.lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	p.metrics.processorStarted(p.name)
	defer p.metrics.processorStopped(p.name)

	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Errorf("паника в рабочем цикле: %v", r))
		}
	}()

	for !p.interrupted.Load() {
		in, err := p.input.Read()
		if err != nil {
			if p.interrupted.Load() {
				return
			}
			p.fail(fmt.Errorf("чтение входного потока: %w", err))
			return
		}
		if in == nil {
			p.logger.Debug("конец входного потока")
			return
		}

		out, result := p.chain.Process(in)
		switch result {
		case ResultProcessedOK:
			if err := p.output.Write(out); err != nil {
				if p.interrupted.Load() {
					return
				}
				p.fail(fmt.Errorf("запись в выходной поток: %w", err))
				return
			}
			p.metrics.bufferProcessed(p.name)
		case ResultOutputNotFilled:
			continue
		default:
			p.metrics.codecFailure(p.name)
			p.fail(fmt.Errorf("%w: %s", ErrCodecFailure, result))
			return
		}
	}
}

func (p *Processor) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()

	p.logger.Error("рабочий цикл процессора завершен с ошибкой", slog.String("error", err.Error()))
}
