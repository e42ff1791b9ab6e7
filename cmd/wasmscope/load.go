package main

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/wippyai/wasmscope/errors"
	"github.com/wippyai/wasmscope/wasm"
)

// mmapThreshold is the file size above which binaries are mapped rather than read.
const mmapThreshold = 1 << 20

// loadModule decodes the module at path. The module aliases the file
// contents, so release must not be called until the module is no longer used.
func (c *config) loadModule(path string) (m *wasm.Module, release func(), err error) {
	release = func() {}

	f, err := os.Open(path)
	if err != nil {
		return nil, release, errors.Load(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, release, errors.Load(fmt.Sprintf("stat %s", path), err)
	}

	if c.noMmap || info.Size() < mmapThreshold {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, release, errors.Load(fmt.Sprintf("read %s", path), err)
		}
		m, err = wasm.ParseModule(data)
		return m, release, err
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, release, errors.Load(fmt.Sprintf("map %s", path), err)
	}
	c.logger().Debug("mapped module", zap.String("path", path), zap.Int64("size", info.Size()))

	release = func() {
		if err := mapped.Unmap(); err != nil {
			c.logger().Warn("unmap failed", zap.String("path", path), zap.Error(err))
		}
	}
	m, err = wasm.ParseModule(mapped)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return m, release, nil
}

func (c *config) logger() *zap.Logger {
	if c.log == nil {
		return zap.NewNop()
	}
	return c.log
}
