package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

const (
	encryptionSalt = "easypdf/upload-encryption/v1"
	nonceSize      = 12
)

// encryptedMagic は暗号化済みファイルの先頭に置く識別子です。
var encryptedMagic = []byte("EPDFENC1")

// ErrDecrypt は鍵が一致しないか内容が改ざんされている場合に返します。
var ErrDecrypt = errors.New("failed to decrypt stored file")

// Cipher はアップロードファイルを AES-256-GCM で暗号化します。
// ファイル形式は magic | nonce | ciphertext+tag で、AAD には保存名を使います。
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher は secret から scrypt で鍵を導出します。secret が空の場合は起動ごとの乱数鍵を使います。
func NewCipher(secret string) (*Cipher, error) {
	var key []byte
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
	} else {
		derived, err := scrypt.Key([]byte(secret), []byte(encryptionSalt), 1<<15, 8, 1, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		key = derived
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) seal(name string, plain []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(encryptedMagic)+nonceSize+len(plain)+c.aead.Overhead())
	out = append(out, encryptedMagic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plain, []byte(name)), nil
}

func (c *Cipher) open(name string, data []byte) ([]byte, error) {
	body := data[len(encryptedMagic):]
	if len(body) < nonceSize+c.aead.Overhead() {
		return nil, ErrDecrypt
	}
	plain, err := c.aead.Open(nil, body[:nonceSize], body[nonceSize:], []byte(name))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func isEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, encryptedMagic)
}

// UseCipher はアップロードの暗号化を有効にします。nil を渡すと平文で保存します。
func (s *FileStore) UseCipher(c *Cipher) { s.cipher = c }

// ReadPlain はファイルを読み込み、暗号化されていれば復号した内容を返します。
func (s *FileStore) ReadPlain(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !isEncrypted(data) {
		return data, nil
	}
	if s.cipher == nil {
		return nil, fmt.Errorf("%w: %s: encryption is not configured", ErrDecrypt, filepath.Base(path))
	}
	plain, err := s.cipher.open(filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, filepath.Base(path))
	}
	return plain, nil
}

// OpenPlain は配信用にファイルを開きます。暗号化済みならメモリ上で復号した内容を返します。
func (s *FileStore) OpenPlain(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	encrypted, err := hasMagic(f)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if !encrypted {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, info.Size(), nil
	}
	f.Close()

	plain, err := s.ReadPlain(path)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(plain)), int64(len(plain)), nil
}

// hasMagic は先頭が暗号化ヘッダーかを調べ、読み取り位置を先頭に戻します。
func hasMagic(f *os.File) (bool, error) {
	head := make([]byte, len(encryptedMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	return isEncrypted(head[:n]), nil
}

// PlainPath は復号済みの内容を読めるパスを返します。
// 暗号化されていないファイルはそのままのパスを返し、暗号化済みなら一時ファイルに復号します。
// 呼び出し側は処理後に cleanup を呼んでください。
func (s *FileStore) PlainPath(path string) (string, func(), error) {
	noop := func() {}
	f, err := os.Open(path)
	if err != nil {
		return "", noop, err
	}
	encrypted, err := hasMagic(f)
	f.Close()
	if err != nil {
		return "", noop, err
	}
	if !encrypted {
		return path, noop, nil
	}

	plain, err := s.ReadPlain(path)
	if err != nil {
		return "", noop, err
	}
	tmp, err := os.CreateTemp("", "easypdf-plain-*"+filepath.Ext(path))
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(plain); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, err
	}
	return tmp.Name(), cleanup, nil
}
