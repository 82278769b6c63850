package corelog

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds the logging-related command-line flags shared by cmd/rtspd.
type Flags struct {
	LogLevel  string
	LogFormat string
	LogFile   string

	DebugRTSP       bool
	DebugRTP        bool
	DebugModule     bool
	DebugScheduler  bool
	DebugSocketPool bool
	DebugAll        bool
}

// RegisterFlags registers logging flags on fs and returns the bound Flags.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false, "Enable RTSP request/response and state-machine debugging")
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable RTP/RTCP packet debugging")
	fs.BoolVar(&f.DebugModule, "debug-module", false, "Enable module/role dispatch debugging")
	fs.BoolVar(&f.DebugScheduler, "debug-scheduler", false, "Enable task scheduler and timeout debugging")
	fs.BoolVar(&f.DebugSocketPool, "debug-socketpool", false, "Enable listener/socket-pool debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts the parsed Flags into a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	cfg.OutputFile = f.LogFile

	switch {
	case f.DebugAll:
		cfg.EnableCategory(CategoryAll)
		cfg.Level = LevelDebug
	default:
		if f.DebugRTSP {
			cfg.EnableCategory(CategoryRTSP)
			cfg.Level = LevelDebug
		}
		if f.DebugRTP {
			cfg.EnableCategory(CategoryRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugModule {
			cfg.EnableCategory(CategoryModule)
			cfg.Level = LevelDebug
		}
		if f.DebugScheduler {
			cfg.EnableCategory(CategoryScheduler)
			cfg.Level = LevelDebug
		}
		if f.DebugSocketPool {
			cfg.EnableCategory(CategorySocketPool)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints example invocations for the logging flags.
func PrintUsageExamples() {
	fmt.Println(`
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./rtspd -prefs /etc/rtspd.conf

  Enable DEBUG level:
    ./rtspd -l debug

  JSON format to a file:
    ./rtspd --log-format json -o rtspd.json

  Debug the role dispatcher only:
    ./rtspd --debug-module

  Debug everything:
    ./rtspd --debug-all -o debug.log
`)
}

// String renders the enabled flags for a single startup log line.
func (f *Flags) String() string {
	parts := []string{
		fmt.Sprintf("level=%s", f.LogLevel),
		fmt.Sprintf("format=%s", f.LogFormat),
	}
	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var cats []string
	switch {
	case f.DebugAll:
		cats = append(cats, "all")
	default:
		if f.DebugRTSP {
			cats = append(cats, "rtsp")
		}
		if f.DebugRTP {
			cats = append(cats, "rtp")
		}
		if f.DebugModule {
			cats = append(cats, "module")
		}
		if f.DebugScheduler {
			cats = append(cats, "scheduler")
		}
		if f.DebugSocketPool {
			cats = append(cats, "socketpool")
		}
	}
	if len(cats) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(cats, ",")))
	}
	return strings.Join(parts, " ")
}
