package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"billingest/internal/api"
	"billingest/internal/config"
	"billingest/internal/store"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) apiClient() *api.Client {
	bind := ""
	if c.apiFlag != nil {
		bind = strings.TrimSpace(*c.apiFlag)
	}
	cfg, _ := c.ensureConfig()
	token := ""
	if cfg != nil {
		if bind == "" {
			bind = cfg.Paths.APIBind
		}
		token = cfg.Paths.APIToken
	}
	return api.NewClient(bind, token)
}

// withStore opens the store for the duration of fn.
func (c *commandContext) withStore(fn func(*store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

// daemonReachable reports whether a daemon answers on the API address.
func (c *commandContext) daemonReachable(ctx context.Context) (*api.Client, api.DaemonStatus, bool) {
	client := c.apiClient()
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := client.Status(probeCtx)
	if err != nil {
		return client, api.DaemonStatus{}, false
	}
	return client, status, true
}

func isUnavailable(err error) bool {
	return errors.Is(err, api.ErrUnavailable)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
