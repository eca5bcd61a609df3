package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"

	"github.com/spec-sa/netsync/internal/model"
)

const credentialColumns = `
	id,
	application,
	comment,
	created_at
`

type Credentials repo

func NewCredentials(db *sqlmw.DB, opts ...Opt) *Credentials {
	return (*Credentials)(newRepo(db, opts...))
}

// Create inserts the credential together with its parameters and returns its id.
func (c *Credentials) Create(ctx context.Context, credential model.Credential) (int64, error) {
	if !credential.Application.Valid() {
		return 0, fmt.Errorf("invalid application %q", credential.Application)
	}

	var id int64
	err := c.db.WithTx(ctx, func(tx *sqlmw.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO credentials (application, comment, created_at)
			VALUES ($1, $2, $3)
			RETURNING id;
		`,
			string(credential.Application),
			credential.Comment,
			c.now(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("inserting credential: %w", err)
		}

		for _, param := range credential.Parameters {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO credential_parameters (credential_id, key, value)
				VALUES ($1, $2, $3);
			`,
				id,
				param.Key,
				param.Value,
			)
			if err != nil {
				return fmt.Errorf("inserting credential parameter %q: %w", param.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Credentials) Get(ctx context.Context, id int64) (model.Credential, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT
			`+credentialColumns+`
		FROM
			credentials
		WHERE
			id = $1;
	`,
		id,
	)

	var credential model.Credential
	err := scanCredential(row.Scan, &credential)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, fmt.Errorf("credential %d: %w", id, ErrCredentialNotFound)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("scanning credential: %w", err)
	}

	credential.Parameters, err = c.parameters(ctx, id)
	if err != nil {
		return model.Credential{}, err
	}
	return credential, nil
}

// Delete removes the credential. Syncs referencing it are removed as well.
func (c *Credentials) Delete(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrCredentialNotFound)
	}
	return nil
}

func (c *Credentials) parameters(ctx context.Context, credentialID int64) ([]model.CredentialParameter, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT
			key,
			value
		FROM
			credential_parameters
		WHERE
			credential_id = $1
		ORDER BY
			id;
	`,
		credentialID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying credential parameters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var params []model.CredentialParameter
	for rows.Next() {
		var param model.CredentialParameter
		if err := rows.Scan(&param.Key, &param.Value); err != nil {
			return nil, fmt.Errorf("scanning credential parameter: %w", err)
		}
		params = append(params, param)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential parameters: %w", err)
	}
	return params, nil
}

func scanCredential(scan scanFn, credential *model.Credential) error {
	var (
		application string
		comment     sql.NullString
	)
	if err := scan(
		&credential.ID,
		&application,
		&comment,
		&credential.CreatedAt,
	); err != nil {
		return err
	}
	credential.Application = model.Application(application)
	credential.Comment = comment.String
	credential.CreatedAt = credential.CreatedAt.UTC()
	return nil
}
