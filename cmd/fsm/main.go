// Command fsm loads a YAML state machine model, initialises one instance and
// dispatches every argument to it as a string message.
//
// Configuration comes from the environment, optionally seeded from a .env file:
//
//	FSM_MODEL       path to the YAML model (required)
//	FSM_LOG_LEVEL   debug, info, warn or error (default info)
//	FSM_LOG_FORMAT  text or json (default text)
//	FSM_DIAGRAM     print the model as PlantUML before dispatching
//	FSM_SEED        seed for choice pseudostates, random when zero
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/pkg/plantuml"
	"github.com/stateforward/fsm.go/pkg/yamlmodel"
)

var ErrInvalidLogFormat = errors.New("invalid log format")

type Config struct {
	Model     string     `env:"FSM_MODEL,required,notEmpty"`
	LogLevel  slog.Level `env:"FSM_LOG_LEVEL" envDefault:"info"`
	LogFormat string     `env:"FSM_LOG_FORMAT" envDefault:"text"`
	Diagram   bool       `env:"FSM_DIAGRAM" envDefault:"false"`
	Seed      uint64     `env:"FSM_SEED"`
}

func loadConfig() (Config, error) {
	// the .env file is optional
	_ = godotenv.Load()
	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}

func newLogger(config Config, writer io.Writer) (*slog.Logger, error) {
	options := &slog.HandlerOptions{Level: config.LogLevel}
	switch strings.ToLower(config.LogFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(writer, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(writer, options)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.LogFormat)
	}
}

// registry holds the behaviors a model loaded from the command line may use.
func registry(logger *slog.Logger) yamlmodel.Registry {
	return yamlmodel.Registry{
		Behaviors: map[string]fsm.Behavior{
			"log": func(message any, instance fsm.Instance, history bool) {
				logger.Info("message", "message", message, "instance", instance, "history", history)
			},
		},
	}
}

func activeNames(model *fsm.StateMachine, instance fsm.Instance) string {
	var names []string
	for _, state := range model.Active(instance) {
		names = append(names, state.QualifiedName())
	}
	return strings.Join(names, ",")
}

func run(config Config, messages []string, stdout, stderr io.Writer) error {
	logger, err := newLogger(config, stderr)
	if err != nil {
		return err
	}
	fsm.SetLogger(logger)
	defer fsm.SetLogger(nil)
	if config.Seed != 0 {
		source := rand.New(rand.NewPCG(config.Seed, config.Seed))
		fsm.SetRandom(source.IntN)
		defer fsm.SetRandom(nil)
	}

	file, err := os.Open(config.Model)
	if err != nil {
		return err
	}
	defer file.Close()
	model, err := yamlmodel.Decode(file, registry(logger))
	if err != nil {
		return fmt.Errorf("load %s: %w", config.Model, err)
	}
	if config.Diagram {
		if err := plantuml.Generate(stdout, model); err != nil {
			return err
		}
	}

	instance := fsm.NewDictionaryInstance()
	if err := model.Initialise(instance); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "initialised active=%s\n", activeNames(model, instance))
	for _, message := range messages {
		processed, err := model.Evaluate(message, instance)
		if err != nil {
			return fmt.Errorf("evaluate %q: %w", message, err)
		}
		fmt.Fprintf(stdout, "%s processed=%t active=%s\n", message, processed, activeNames(model, instance))
		if instance.Terminated() {
			fmt.Fprintln(stdout, "terminated")
			break
		}
	}
	return nil
}

func main() {
	config, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(config, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
