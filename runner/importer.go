package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/spec-sa/netsync/connectors"
	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/internal/repo"
	"github.com/spec-sa/netsync/jsonrs"
	"github.com/spec-sa/netsync/syncer/params"
	"github.com/spec-sa/netsync/utils/logfield"
)

// Document is the YAML accepted by the import command. Syncs reference
// credentials by their Ref.
type Document struct {
	Credentials []CredentialSpec `yaml:"credentials"`
	Syncs       []SyncSpec       `yaml:"syncs"`
}

type CredentialSpec struct {
	Ref         string            `yaml:"ref"`
	Application string            `yaml:"application"`
	Comment     string            `yaml:"comment"`
	Parameters  map[string]string `yaml:"parameters"`
}

type SyncSpec struct {
	Synchronize    string          `yaml:"synchronize"`
	Origin         string          `yaml:"origin"`
	Destiny        string          `yaml:"destiny"`
	CronExpression string          `yaml:"cron_expression"`
	Active         *bool           `yaml:"active"`
	Parameters     []ParameterSpec `yaml:"parameters"`
	Processes      []ProcessSpec   `yaml:"processes"`
}

// ParameterSpec holds either a stored literal in Value or, when Value is
// empty, a structured Data node stored as json.
type ParameterSpec struct {
	UseIn string    `yaml:"use_in"`
	Key   string    `yaml:"key"`
	Value string    `yaml:"value"`
	Type  string    `yaml:"type"`
	Data  yaml.Node `yaml:"data"`
}

type ProcessSpec struct {
	Order        int    `yaml:"order"`
	Name         string `yaml:"name"`
	Requirements string `yaml:"requirements"`
	Expression   string `yaml:"expression"`
}

// ParseDocument decodes an import document, rejecting unknown fields.
func ParseDocument(r io.Reader) (Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("decoding import document: %w", err)
	}
	return doc, nil
}

// credentials converts the credential specs, keyed by ref.
func (d Document) credentials() (map[string]model.Credential, error) {
	out := make(map[string]model.Credential, len(d.Credentials))
	var errs []error
	for i, spec := range d.Credentials {
		if spec.Ref == "" {
			errs = append(errs, fmt.Errorf("credentials[%d]: missing ref", i))
			continue
		}
		if _, ok := out[spec.Ref]; ok {
			errs = append(errs, fmt.Errorf("credentials[%d]: duplicate ref %q", i, spec.Ref))
			continue
		}
		app := model.Application(spec.Application)
		if !app.Valid() {
			errs = append(errs, fmt.Errorf("credential %q: invalid application %q", spec.Ref, spec.Application))
			continue
		}

		keys := lo.Keys(spec.Parameters)
		sort.Strings(keys)
		credential := model.Credential{Application: app, Comment: spec.Comment}
		for _, key := range keys {
			if !lo.Contains(model.CredentialParamKeys, key) {
				errs = append(errs, fmt.Errorf("credential %q: unknown parameter %q", spec.Ref, key))
				continue
			}
			credential.Parameters = append(credential.Parameters, model.CredentialParameter{Key: key, Value: spec.Parameters[key]})
		}
		out[spec.Ref] = credential
	}
	return out, errors.Join(errs...)
}

func (s SyncSpec) sync(credentials map[string]model.Credential) (model.Sync, error) {
	sync := model.Sync{
		Synchronize:    model.JobType(s.Synchronize),
		CronExpression: strings.TrimSpace(s.CronExpression),
		Active:         s.Active == nil || *s.Active,
		Status:         model.StatusPending,
	}
	if !sync.Synchronize.Valid() {
		return model.Sync{}, fmt.Errorf("invalid job type %q", s.Synchronize)
	}

	var ok bool
	if sync.Origin, ok = credentials[s.Origin]; !ok {
		return model.Sync{}, fmt.Errorf("unknown origin credential %q", s.Origin)
	}
	if sync.Destiny, ok = credentials[s.Destiny]; !ok {
		return model.Sync{}, fmt.Errorf("unknown destiny credential %q", s.Destiny)
	}

	for i, spec := range s.Parameters {
		p, err := spec.parameter(i)
		if err != nil {
			return model.Sync{}, fmt.Errorf("parameters[%d]: %w", i, err)
		}
		sync.Parameters = append(sync.Parameters, p)
	}
	for _, spec := range s.Processes {
		sync.Processes = append(sync.Processes, model.SyncProcess{
			Order:        spec.Order,
			Name:         spec.Name,
			Requirements: spec.Requirements,
			Expression:   spec.Expression,
		})
	}
	return sync, nil
}

func (s ParameterSpec) parameter(position int) (model.SyncParameter, error) {
	p := model.SyncParameter{
		Position: position,
		UseIn:    model.UseIn(s.UseIn),
		Key:      s.Key,
		Value:    s.Value,
		Type:     model.ParamType(s.Type),
	}
	if p.UseIn != model.UseInOrigin && p.UseIn != model.UseInDestiny {
		return model.SyncParameter{}, fmt.Errorf("invalid use_in %q", s.UseIn)
	}
	if p.Key == "" {
		return model.SyncParameter{}, errors.New("missing key")
	}

	if s.Data.Kind != 0 {
		if s.Value != "" {
			return model.SyncParameter{}, fmt.Errorf("%q: value and data are exclusive", s.Key)
		}
		var data any
		if err := s.Data.Decode(&data); err != nil {
			return model.SyncParameter{}, fmt.Errorf("%q: decoding data: %w", s.Key, err)
		}
		raw, err := jsonrs.Marshal(data)
		if err != nil {
			return model.SyncParameter{}, fmt.Errorf("%q: encoding data: %w", s.Key, err)
		}
		p.Value, p.Type = string(raw), model.ParamTypeJSON
	}
	if p.Type == "" {
		p.Type = model.ParamTypePython
	}

	// stored values must decode at run time
	if _, err := params.DecodeValue(p.Value, p.Type); err != nil {
		return model.SyncParameter{}, fmt.Errorf("%q: %w", s.Key, err)
	}
	return p, nil
}

// Import stores the document's credentials and syncs. Every sync must be
// supported by the registry.
func Import(ctx context.Context, credentials *repo.Credentials, syncs *repo.Syncs, validator model.Validator, doc Document) ([]int64, error) {
	byRef, err := doc.credentials()
	if err != nil {
		return nil, err
	}

	var (
		toCreate []model.Sync
		errs     []error
	)
	for i, spec := range doc.Syncs {
		sync, err := spec.sync(byRef)
		if err != nil {
			errs = append(errs, fmt.Errorf("syncs[%d]: %w", i, err))
			continue
		}
		if !sync.IsValid(validator) {
			errs = append(errs, fmt.Errorf("syncs[%d] %s: %w", i, sync, connectors.ErrNotSupported))
			continue
		}
		toCreate = append(toCreate, sync)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(byRef))
	for _, spec := range doc.Credentials {
		id, err := credentials.Create(ctx, byRef[spec.Ref])
		if err != nil {
			return nil, fmt.Errorf("credential %q: %w", spec.Ref, err)
		}
		ids[spec.Ref] = id
	}

	created := make([]int64, 0, len(toCreate))
	for i, sync := range toCreate {
		sync.Origin.ID = ids[doc.Syncs[i].Origin]
		sync.Destiny.ID = ids[doc.Syncs[i].Destiny]
		id, err := syncs.Create(ctx, sync)
		if err != nil {
			return created, fmt.Errorf("sync %s: %w", sync, err)
		}
		created = append(created, id)
	}
	return created, nil
}

func (r *Runner) importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "create the credentials and syncs described in a YAML file",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "read the document from `FILE`", Required: true},
		},
		Action: func(c *cli.Context) error {
			f, err := os.Open(c.Path("file"))
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			doc, err := ParseDocument(f)
			if err != nil {
				return err
			}
			env, err := r.environment(c.Context)
			if err != nil {
				return err
			}
			ids, err := Import(c.Context, repo.NewCredentials(env.db, repo.WithNow(r.now)), env.syncs, env.registry, doc)
			if err != nil {
				return cli.Exit(fmt.Sprintf("import failed: %v", err), 1)
			}
			r.log.Infon("Imported", logger.NewIntField(logfield.Records, int64(len(ids))))
			for _, id := range ids {
				r.printf("Sync #%d created", id)
			}
			return nil
		},
	}
}
