package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"shfd/internal/config"
	"shfd/internal/control"
	"shfd/internal/daemon"
)

type commandContext struct {
	configFlag *string
	adminPort  *int

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string, adminPort *int) *commandContext {
	return &commandContext{configFlag: configFlag, adminPort: adminPort}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = &exitError{code: daemon.ExitInit, err: err}
			return
		}
		c.config, c.configPath, c.configExists = cfg, resolved, exists
	})
	return c.config, c.configErr
}

// adminAddr is the loopback admin address, honoring --admin-port.
func (c *commandContext) adminAddr(cmd *cobra.Command) (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	port := cfg.Server.AdminPort
	if flag := cmd.Flags().Lookup("admin-port"); flag != nil && flag.Changed {
		port = *c.adminPort
	}
	if port <= 0 {
		return "", usageError(fmt.Errorf("admin port must be a positive number"))
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), nil
}

func (c *commandContext) withClient(cmd *cobra.Command, fn func(*control.Client) error) error {
	addr, err := c.adminAddr(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := control.Dial(ctx, addr, control.DefaultTimeout)
	if err != nil {
		return wrapDialError(err, addr)
	}
	defer client.Close()
	return fn(client)
}

func wrapDialError(err error, addr string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; verify shfd is running", addr)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
