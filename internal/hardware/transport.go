package hardware

import (
	"bytes"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/wfunc/nexstar-hc/internal/errors"
)

// Port 手控器字节流端口。
// 读超时返回 ErrSerialTimeout，并附带超时前已收到的字节；
// 端口关闭后所有读写返回 ErrConnectionClosed。
type Port interface {
	Write(b []byte) error
	ReadUntil(delim byte, timeout time.Duration) ([]byte, error)
	ReadFull(n int, timeout time.Duration) ([]byte, error)
	// Flush 丢弃已收到但未读取的字节
	Flush() error
	Close() error
}

// flusher tarm/serial 的 *serial.Port 实现了该接口
type flusher interface {
	Flush() error
}

// eofPause 底层读返回 io.EOF 时的退避，串口读超时在 tarm/serial 中表现为 EOF
const eofPause = 5 * time.Millisecond

// StreamPort 把任意 io.ReadWriteCloser 适配为 Port。
// 后台协程持续读取底层流，读调用在缓冲区上按超时等待。
type StreamPort struct {
	rwc io.ReadWriteCloser

	mu      sync.Mutex
	buf     []byte
	readErr error

	dataCh    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	pumpDone  chan struct{}
}

// NewStreamPort 创建并启动读协程
func NewStreamPort(rwc io.ReadWriteCloser) *StreamPort {
	p := &StreamPort{
		rwc:      rwc,
		dataCh:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go p.pump()
	return p
}

func (p *StreamPort) pump() {
	defer close(p.pumpDone)
	tmp := make([]byte, 256)
	for {
		n, err := p.rwc.Read(tmp)
		if n > 0 {
			p.mu.Lock()
			p.buf = append(p.buf, tmp[:n]...)
			p.mu.Unlock()
			p.signal()
		}
		if err == nil {
			continue
		}

		select {
		case <-p.closed:
			return
		default:
		}
		if stderrors.Is(err, io.EOF) && n == 0 {
			time.Sleep(eofPause)
			continue
		}

		p.mu.Lock()
		p.readErr = err
		p.mu.Unlock()
		p.signal()
		return
	}
}

func (p *StreamPort) signal() {
	select {
	case p.dataCh <- struct{}{}:
	default:
	}
}

func (p *StreamPort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Write 写入全部字节
func (p *StreamPort) Write(b []byte) error {
	if p.isClosed() {
		return errors.New(errors.ErrConnectionClosed)
	}
	for len(b) > 0 {
		n, err := p.rwc.Write(b)
		if err != nil {
			if p.isClosed() {
				return errors.New(errors.ErrConnectionClosed)
			}
			return errors.Wrap(err, errors.ErrSerialPortWrite)
		}
		b = b[n:]
	}
	return nil
}

// ReadFull 读取恰好 n 个字节
func (p *StreamPort) ReadFull(n int, timeout time.Duration) ([]byte, error) {
	return p.read(timeout, func(buf []byte) int {
		if len(buf) >= n {
			return n
		}
		return -1
	})
}

// ReadUntil 读取到 delim 为止（含 delim）
func (p *StreamPort) ReadUntil(delim byte, timeout time.Duration) ([]byte, error) {
	return p.read(timeout, func(buf []byte) int {
		if i := bytes.IndexByte(buf, delim); i >= 0 {
			return i + 1
		}
		return -1
	})
}

// read 等待 complete 返回非负长度；超时则取走缓冲区已有字节
func (p *StreamPort) read(timeout time.Duration, complete func([]byte) int) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if p.isClosed() {
			return nil, errors.New(errors.ErrConnectionClosed)
		}

		p.mu.Lock()
		if k := complete(p.buf); k >= 0 {
			out := p.take(k)
			p.mu.Unlock()
			return out, nil
		}
		if p.readErr != nil {
			err := p.readErr
			p.mu.Unlock()
			return nil, errors.Wrap(err, errors.ErrSerialPortRead)
		}
		p.mu.Unlock()

		select {
		case <-p.dataCh:
		case <-p.closed:
			return nil, errors.New(errors.ErrConnectionClosed)
		case <-timer.C:
			p.mu.Lock()
			out := p.take(len(p.buf))
			p.mu.Unlock()
			return out, errors.Newf(errors.ErrSerialTimeout, "no complete reply within %s, got %d bytes", timeout, len(out))
		}
	}
}

// take 取出缓冲区前 k 个字节，调用方持有锁
func (p *StreamPort) take(k int) []byte {
	out := make([]byte, k)
	copy(out, p.buf[:k])
	p.buf = p.buf[k:]
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Flush 丢弃缓冲区，底层支持时同时清空驱动缓冲
func (p *StreamPort) Flush() error {
	if p.isClosed() {
		return errors.New(errors.ErrConnectionClosed)
	}
	if f, ok := p.rwc.(flusher); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, errors.ErrSerialPortRead, "flush")
		}
	}
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
	select {
	case <-p.dataCh:
	default:
	}
	return nil
}

// Close 关闭底层流，正在等待的读立即返回 ErrConnectionClosed。可重复调用。
func (p *StreamPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		if err := p.rwc.Close(); err != nil {
			p.closeErr = errors.Wrap(err, errors.ErrConnectionClosed, "close")
		}
	})
	return p.closeErr
}
