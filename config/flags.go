package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// keyAnnotation marks a flag with the settings key it overrides.
const keyAnnotation = "parking_settings_key"

// MapFlags annotates each named flag of flags with its settings key.
//
// Several commands may map flags to the same key; only the flags of the
// command being executed are bound by BindFlags.
//
// @example
// config.MapFlags(cmd.Flags(), map[string]string{"learning-rate": "learning_rate"})
func MapFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		if err := flags.SetAnnotation(name, keyAnnotation, []string{key}); err != nil {
			return errors.Wrapf(err, "error mapping flag %s", name)
		}
	}
	return nil
}

// BindFlags binds every annotated flag of flags to its settings key on v.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(flag *pflag.Flag) {
		keys := flag.Annotations[keyAnnotation]
		if bindErr != nil || len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], flag); err != nil {
			bindErr = errors.Wrapf(err, "error binding flag %s", flag.Name)
		}
	})
	return bindErr
}
