package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/api/resource"
)

// CustomHooks are the decode hooks applied when unmarshalling config.
// Setting a decode hook replaces viper's defaults, so those are repeated here.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		SecondsDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		QuantityDecodeHook(),
	)),
}

// SecondsDurationHookFunc interprets bare numbers as a number of seconds when decoding into a time.Duration,
// so that both `interval: 30` and `interval: 30s` are accepted. Numeric strings, as set through the environment,
// are treated the same way. It must run before mapstructure.StringToTimeDurationHookFunc.
func SecondsDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.String:
			seconds, err := strconv.ParseFloat(strings.TrimSpace(reflect.ValueOf(data).String()), 64)
			if err != nil {
				// Not a bare number; left for the duration parser.
				return data, nil
			}
			return time.Duration(seconds * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

func QuantityDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(resource.Quantity{}) {
			return data, nil
		}
		return resource.ParseQuantity(fmt.Sprintf("%v", data))
	}
}
