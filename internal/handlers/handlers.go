// Package handlers holds the built-in command handlers and binds the
// configured command table into a registry.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/satlink/internal/command"
	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/foldersync"
	"github.com/danmuck/satlink/internal/protocol/frame"
	"github.com/danmuck/satlink/internal/transfer"
)

var (
	ErrUnknownHandler = errors.New("handlers: unknown handler")
	ErrBadIndex       = errors.New("handlers: bad converted-file index")
)

// Set carries the collaborators the built-in handlers share.
type Set struct {
	Runner     Runner
	Paths      config.HandlersConfig
	Transfer   transfer.Options
	FolderSync foldersync.Options
}

func NewSet(cfg config.Settings, runner Runner) *Set {
	return &Set{
		Runner:     runner,
		Paths:      cfg.Handlers,
		Transfer:   transfer.OptionsFrom(cfg.Transfer),
		FolderSync: foldersync.OptionsFrom(cfg.FolderSync),
	}
}

type builtin struct {
	handler command.Handler
	// nil accepts any argument list.
	args []frame.Tag
	// hold marks handlers that read the link.
	hold bool
}

func (s *Set) builtins() map[string]builtin {
	str := frame.TagString
	return map[string]builtin{
		"echo":        {handler: command.HandlerFunc(s.Echo)},
		"device":      {handler: command.HandlerFunc(s.Device)},
		"capture":     {handler: command.HandlerFunc(s.Capture)},
		"pointillism": {handler: command.HandlerFunc(s.Pointillism), args: []frame.Tag{str, str}},
		"sendfile":    {handler: command.HandlerFunc(s.SendFile), args: []frame.Tag{str}, hold: true},
		"sendfolder":  {handler: command.HandlerFunc(s.SendFolder), args: []frame.Tag{str}},
	}
}

// Names lists the built-in handler names.
func (s *Set) Names() []string {
	names := make([]string, 0, 6)
	for name := range s.builtins() {
		names = append(names, name)
	}
	return names
}

// Build registers every configured command and seals the registry.
func (s *Set) Build(reg *command.Registry, cmds []config.CommandConfig) error {
	table := s.builtins()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Handler))
		b, ok := table[name]
		if !ok {
			return fmt.Errorf("%w: %q for command %d", ErrUnknownHandler, c.Handler, c.ID)
		}
		tags, err := command.ParseTags(c.Args)
		if err != nil {
			return fmt.Errorf("command %d: %w", c.ID, err)
		}
		if b.args != nil && !sameTags(b.args, tags) {
			return fmt.Errorf("%w: command %d handler %s takes %v, configured %v",
				command.ErrInvalidDescriptor, c.ID, name, b.args, tags)
		}
		policy, err := command.ParsePolicy(c.Policy)
		if err != nil {
			return fmt.Errorf("command %d: %w", c.ID, err)
		}
		if b.hold && policy != command.Hold {
			return fmt.Errorf("%w: command %d handler %s reads the link and must hold it",
				command.ErrInvalidDescriptor, c.ID, name)
		}
		if err := reg.Register(command.Descriptor{
			ID:       c.ID,
			Name:     name,
			ArgTypes: tags,
			Policy:   policy,
			Handler:  b.handler,
		}); err != nil {
			return err
		}
	}
	reg.Seal()
	return nil
}

func sameTags(a, b []frame.Tag) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Echo logs its arguments.
func (s *Set) Echo(_ context.Context, call command.Call) (command.Result, error) {
	args := call.Strings()
	call.Log.Info().Strs("args", args).Msg("parsed arguments")
	return command.Result{Status: "ok", Output: strings.Join(args, " ")}, nil
}

// Device logs the device it was asked about.
func (s *Set) Device(_ context.Context, call command.Call) (command.Result, error) {
	name := strings.Join(call.Strings(), " ")
	call.Log.Info().Str("device", name).Msg("device selected")
	return command.Result{Status: "ok", Output: name}, nil
}

// Capture runs the camera capture script with the frame's arguments.
func (s *Set) Capture(ctx context.Context, call command.Call) (command.Result, error) {
	out, err := s.script(ctx, call, s.Paths.CaptureScript, call.Strings()...)
	if err != nil {
		return command.Result{}, err
	}
	return command.Result{Status: "captured", Output: strings.TrimSpace(out.Stdout)}, nil
}

// Pointillism converts an image and records the converted file path in
// the index that SendFile reads.
func (s *Set) Pointillism(ctx context.Context, call command.Call) (command.Result, error) {
	source, err := call.Str(0)
	if err != nil {
		return command.Result{}, err
	}
	save, err := call.Str(1)
	if err != nil {
		return command.Result{}, err
	}
	out, err := s.script(ctx, call, s.Paths.PointillismScript, source, save)
	if err != nil {
		return command.Result{}, err
	}

	converted := strings.TrimSpace(out.Stdout)
	if _, err := os.Stat(converted); err != nil {
		return command.Result{}, command.External(fmt.Errorf("converter reported %q: %w", converted, err))
	}
	if err := WriteIndex(s.Paths.ConvertedIndex, converted); err != nil {
		return command.Result{}, err
	}
	call.Log.Info().Str("converted", converted).Str("index", s.Paths.ConvertedIndex).Msg("conversion indexed")
	return command.Result{Status: "converted", Output: converted}, nil
}

// SendFile pushes the file named by a converted-file index over the link
// with the checksummed transfer. An empty argument uses the configured
// index.
func (s *Set) SendFile(ctx context.Context, call command.Call) (command.Result, error) {
	index, err := call.Str(0)
	if err != nil {
		return command.Result{}, err
	}
	if strings.TrimSpace(index) == "" {
		index = s.Paths.ConvertedIndex
	}
	path, err := ReadIndex(index)
	if err != nil {
		return command.Result{}, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return command.Result{}, fmt.Errorf("handlers: read %s: %w", path, err)
	}

	rep, err := transfer.NewSender(call.Link, s.Transfer, call.Log).Send(ctx, payload)
	if err != nil {
		return command.Result{}, err
	}
	return command.Result{
		Status: "sent",
		Output: fmt.Sprintf("%s %d bytes in %d attempts", path, rep.Bytes, rep.Attempts),
	}, nil
}

// SendFolder pushes a directory with the folder sync sender.
func (s *Set) SendFolder(ctx context.Context, call command.Call) (command.Result, error) {
	dir, err := call.Str(0)
	if err != nil {
		return command.Result{}, err
	}
	rep, err := foldersync.NewSender(call.Link, s.FolderSync, call.Log).SendFolder(ctx, dir)
	if err != nil {
		return command.Result{}, err
	}
	return command.Result{
		Status: "sent",
		Output: fmt.Sprintf("%s %d files %d bytes", dir, rep.Files, rep.Bytes),
	}, nil
}

func (s *Set) script(ctx context.Context, call command.Call, script string, args ...string) (Output, error) {
	if s.Runner == nil {
		return Output{}, errors.New("handlers: no runner configured")
	}
	argv := append([]string{script}, args...)
	call.Log.Info().Str("cmd", s.Paths.Python).Strs("args", argv).Msg("running external")
	out, err := s.Runner.Run(ctx, s.Paths.Python, argv...)
	if err != nil {
		call.Log.Error().Int("exit", out.ExitCode).Str("stderr", strings.TrimSpace(out.Stderr)).Msg("external failed")
		return out, command.External(err)
	}
	if text := strings.TrimSpace(out.Stdout); text != "" {
		call.Log.Info().Str("stdout", text).Msg("external output")
	}
	return out, nil
}

type index struct {
	ConvertedFile string `json:"converted_file"`
}

// WriteIndex records path as the most recent converted file.
func WriteIndex(indexPath, path string) error {
	data, err := json.MarshalIndent(index{ConvertedFile: path}, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return fmt.Errorf("handlers: create index dir: %w", err)
	}
	if err := os.WriteFile(indexPath, data, 0o644); err != nil {
		return fmt.Errorf("handlers: write index: %w", err)
	}
	return nil
}

// ReadIndex returns the converted file path stored at indexPath.
func ReadIndex(indexPath string) (string, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadIndex, err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadIndex, err)
	}
	if strings.TrimSpace(idx.ConvertedFile) == "" {
		return "", fmt.Errorf("%w: converted_file is empty", ErrBadIndex)
	}
	return idx.ConvertedFile, nil
}
