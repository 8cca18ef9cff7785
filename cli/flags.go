package cli

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/avatarmem/memory"
)

// options holds values shared by every command.
type options struct {
	configPath string
	envFile    string
	logLevel   string

	owner  string
	avatar string
	token  string
}

// globalFlags returns flags for configuration loading.
func globalFlags(opts *options) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the YAML configuration file",
			Sources:     cli.EnvVars("AVATARMEM_CONFIG"),
			Destination: &opts.configPath,
		},
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "Dotenv file loaded before configuration",
			Value:       ".env",
			Sources:     cli.EnvVars("AVATARMEM_ENV_FILE"),
			Destination: &opts.envFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error); overrides the file",
			Destination: &opts.logLevel,
		},
	}
}

// scopeFlags returns flags identifying the memory scope.
func scopeFlags(opts *options) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "owner",
			Usage:       "Owner user ID of the avatar",
			Sources:     cli.EnvVars("AVATARMEM_OWNER"),
			Destination: &opts.owner,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "avatar",
			Usage:       "Avatar ID",
			Sources:     cli.EnvVars("AVATARMEM_AVATAR"),
			Destination: &opts.avatar,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "token",
			Aliases:     []string{"t"},
			Usage:       "Relationship token of the visitor; omit when the owner is speaking",
			Sources:     cli.EnvVars("AVATARMEM_TOKEN"),
			Destination: &opts.token,
		},
	}
}

func (o *options) scope() (memory.ScopeKey, error) {
	scope, err := memory.ResolveScope(o.owner, o.avatar, o.token)
	if err != nil {
		return memory.ScopeKey{}, goerr.Wrap(err, "invalid scope")
	}
	return scope, nil
}

func commandFlags(opts *options, extra ...cli.Flag) []cli.Flag {
	flags := append([]cli.Flag{}, extra...)
	flags = append(flags, scopeFlags(opts)...)
	return append(flags, globalFlags(opts)...)
}
