package repository

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"AstroBot/internal/config"
)

func TestNewMongoClientDisabled(t *testing.T) {
	conf := &config.Config{}
	client, err := NewMongoClient(conf, slog.Default())
	require.NoError(t, err)
	require.Nil(t, client)
}

func TestNewMongoClientEnabled(t *testing.T) {
	conf := &config.Config{}
	conf.Mongo.Enabled = true
	conf.Mongo.Host = "localhost"
	conf.Mongo.Port = "27017"
	conf.Mongo.Database = "astro"
	conf.Mongo.User = "bot"

	client, err := NewMongoClient(conf, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, client)
	require.Equal(t, "astro", client.database)
	require.Equal(t, "bot", client.clientOptions.Auth.Username)
}

func TestVersionFilter(t *testing.T) {
	f := versionFilter("whatsapp:1", 3)
	require.Equal(t, bson.D{{"user_key", "whatsapp:1"}, {"version", int64(3)}}, f)
}

func TestStaleFilterSkipsSessionsAlreadyAtRoot(t *testing.T) {
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := staleFilter(cutoff, "main", "root")

	require.Len(t, f, 2)
	require.Equal(t, "last_activity_at", f[0].Key)
	require.Equal(t, bson.D{{"$lt", cutoff}}, f[0].Value)
	require.Equal(t, "$nor", f[1].Key)

	nor := f[1].Value.(bson.A)
	require.Equal(t, bson.D{{"flow_id", "main"}, {"step_id", "root"}, {"context", bson.D{}}}, nor[0])
}

func TestExpireUpdateBumpsVersion(t *testing.T) {
	u := expireUpdate("main", "root")
	set := u[0].Value.(bson.D)
	require.Equal(t, bson.E{Key: "flow_id", Value: "main"}, set[0])
	require.Equal(t, bson.E{Key: "step_id", Value: "root"}, set[1])
	require.Equal(t, bson.D{{"version", 1}}, u[1].Value)
}

func TestActiveChatsPipelineGroupsByUser(t *testing.T) {
	p := activeChatsPipeline()
	require.Len(t, p, 4)
	require.Equal(t, "$group", p[1][0].Key)
	require.Equal(t, "$project", p[3][0].Key)
}
