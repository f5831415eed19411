package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// Upload copies a local file to remotePath over SFTP, creating missing
// parent directories and carrying over the local permission bits.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) (*TransferResult, error) {
	startTime := time.Now()

	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer localFile.Close()

	fileInfo, err := localFile.Stat()
	if err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to stat local file: %w", err)}
	}
	if fileInfo.IsDir() {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("%s is a directory", localPath)}
	}

	client, err := c.conn("upload")
	if err != nil {
		return nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	written, err := io.Copy(remoteFile, ctxReader{ctx, localFile})
	if err != nil {
		return nil, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: ctx.Err() == nil,
		}
	}

	if err := sftpClient.Chmod(remotePath, fileInfo.Mode().Perm()); err != nil {
		log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
	}

	result := &TransferResult{BytesTransferred: written, Duration: time.Since(startTime)}
	log.Debug().
		Str("host", c.config.Host).
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", result.Duration).
		Msg("file uploaded")

	return result, nil
}

// ctxReader stops a copy at the next read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
