package sl

import (
	"log/slog"
)

func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{Key: "error", Value: slog.StringValue("nil")}
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

func Module(mod string) slog.Attr {
	return slog.Attr{
		Key:   "module",
		Value: slog.StringValue(mod),
	}
}

// Secret logs only the edges of a sensitive value.
func Secret(key, value string) slog.Attr {
	if len(value) > 10 {
		value = value[:4] + "..." + value[len(value)-4:]
	} else if value != "" {
		value = "***"
	}
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(value),
	}
}

func UserKey(key string) slog.Attr {
	return slog.String("user_key", key)
}
