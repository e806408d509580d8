package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// envPrefix names the overlay's namespace: FABRIK_CONFIG_<SECTION>_<KEY>.
const envPrefix = "FABRIK_CONFIG"

// applyEnvOverlay walks cfg's fields by their toml tag, checking env for
// FABRIK_CONFIG_<SECTION>_<KEY> (array fields get their index spliced into
// the section name) and overwriting the field's value when present.
func applyEnvOverlay(cfg *Config, env func(string) (string, bool)) error {
	return overlayStruct(reflect.ValueOf(cfg).Elem(), []string{envPrefix}, env)
}

func overlayStruct(v reflect.Value, path []string, env func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("toml")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.ToUpper(tag)
		fv := v.Field(i)

		switch fv.Kind() {
		case reflect.Struct:
			if err := overlayStruct(fv, append(path, name), env); err != nil {
				return err
			}
		case reflect.Slice:
			for j := 0; j < fv.Len(); j++ {
				elemPath := append(append([]string{}, path...), fmt.Sprintf("%s_%d", name, j))
				elem := fv.Index(j)
				if elem.Kind() == reflect.Struct {
					if err := overlayStruct(elem, elemPath, env); err != nil {
						return err
					}
				}
			}
		default:
			key := strings.Join(append(append([]string{}, path...), name), "_")
			if raw, ok := env(key); ok {
				if err := setScalar(fv, raw); err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
			}
		}
	}
	return nil
}

func setScalar(fv reflect.Value, raw string) error {
	switch fv.Interface().(type) {
	case time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	default:
		return fmt.Errorf("unsupported overlay target kind %s", fv.Kind())
	}
	return nil
}
