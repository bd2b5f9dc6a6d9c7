// Package cli holds the flag plumbing shared by the poolescrow commands.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagDef defines a command-line flag bound to a viper configuration key.
type (
	flagType interface {
		string | int | bool
	}

	FlagDef[T flagType] struct {
		Name         string
		ViperKey     string
		DefaultValue T
		Description  string
	}
)

// DeclareFlags declares flags on cmd and binds each one to its viper key. Persistent flags
// are inherited by every subcommand.
func DeclareFlags[T flagType](cmd *cobra.Command, persistent bool, flags []FlagDef[T]) error {
	for _, flag := range flags {
		if err := declareFlag(cmd, persistent, flag); err != nil {
			return err
		}
	}
	return nil
}

// declareFlag declares a single flag. The type parameter T determines the flag type.
func declareFlag[T flagType](cmd *cobra.Command, persistent bool, flag FlagDef[T]) error {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}

	switch v := any(flag.DefaultValue).(type) {
	case string:
		flags.String(flag.Name, v, flag.Description)
	case int:
		flags.Int(flag.Name, v, flag.Description)
	case bool:
		flags.Bool(flag.Name, v, flag.Description)
	}

	return viper.BindPFlag(flag.ViperKey, flags.Lookup(flag.Name))
}

// MustDeclare panics when flags cannot be declared; for use in init.
func MustDeclare[T flagType](cmd *cobra.Command, persistent bool, flags []FlagDef[T]) {
	if err := DeclareFlags(cmd, persistent, flags); err != nil {
		panic(err)
	}
}
