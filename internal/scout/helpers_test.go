package scout_test

import "github.com/spf13/viper"

func testutilViper(values map[string]any) *viper.Viper {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}
