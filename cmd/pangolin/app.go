// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/manish59/Pangolin/connections/config"
	"github.com/manish59/Pangolin/connections/registry"
	"github.com/manish59/Pangolin/connections/sdk"
	"github.com/manish59/Pangolin/shared/logger"
)

// Settings are the process-level options read from PANGOLIN_* variables.
// Flags on the root command override them.
type Settings struct {
	Config        string        `default:"pangolin.yaml"`
	LogLevel      string        `split_words:"true" default:"info"`
	StoreDSN      string        `split_words:"true"`
	Secrets       string
	SecretsRegion string        `split_words:"true"`
	SecretsTTL    time.Duration `split_words:"true" default:"5m"`
	Addr          string        `default:":8080"`
	RateLimit     float64       `split_words:"true"`
	RateBurst     int           `split_words:"true" default:"10"`
}

// LoadSettings reads Settings from the environment
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process("pangolin", &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// app is the state shared by every command once setup has run
type app struct {
	settings Settings
	out      io.Writer
	errOut   io.Writer

	log       *logger.Logger
	collector *sdk.Collector
	reg       *registry.Registry
	store     *registry.Store
}

func (a *app) setup(ctx context.Context) error {
	level, err := logger.ParseLevel(a.settings.LogLevel)
	if err != nil {
		return err
	}
	a.log = logger.NewWithWriter("pangolin", a.errOut)
	a.log.SetLevel(level)

	factory := &registry.Factory{Log: a.log}
	switch a.settings.Secrets {
	case "":
	case "aws":
		resolver, err := config.LoadAWSSecrets(ctx, a.settings.SecretsRegion, a.settings.SecretsTTL, a.log)
		if err != nil {
			return err
		}
		factory.Secrets = resolver
	default:
		return fmt.Errorf("unknown secrets backend %q (want aws)", a.settings.Secrets)
	}

	a.collector = sdk.NewCollector("pangolin")
	opts := []registry.Option{
		registry.WithLogger(a.log),
		registry.WithCollector(a.collector),
		registry.WithFactory(factory),
	}
	if a.settings.StoreDSN != "" {
		store, err := registry.OpenStore(ctx, a.settings.StoreDSN, a.log)
		if err != nil {
			return err
		}
		a.store = store
		opts = append(opts, registry.WithStore(store))
	}
	a.reg = registry.New(opts...)

	err = a.reg.LoadFile(ctx, a.settings.Config)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && a.store != nil:
		a.log.Info("", "No connections file, using stored connections only", map[string]interface{}{
			"path": a.settings.Config,
		})
	default:
		return err
	}
	return a.reg.LoadStore(ctx)
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}
