package gdfs

import (
	"fmt"
	"os"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/internal/bytecodec"
	"github.com/basebridge/basebridge/pkg/frame"
	"github.com/basebridge/basebridge/pkg/link"
)

// Variable is one (addr, data) pair as stored in a GDFS backup file.
type Variable struct {
	Addr Addr
	Data []byte
}

// maxWriteLen caps a single variable's write payload on Restore; any excess
// bytes are skipped from the write call but still advance the file cursor.
const maxWriteLen = 0x600

// Backup runs the CS subcmd-0x02 session: the device streams a chunked
// table of variables, the first 10 bytes carrying a chunk size and a
// stated variable count, honoring chunk boundaries with an ACK between
// them. Result is written, 4-byte-LE-count-prefixed, to
// <backupDir>/GDFS_<model>_<imei>.bin.
func (e *Engine) Backup(model, imei, backupDir string) (string, error) {
	encoded := frame.EncodeCS(csCmd, csSubBackup, nil)
	if _, err := e.port.Write(encoded); err != nil {
		return "", err
	}

	head, err := e.port.ReadExact(10, 50*link.TIMEOUT)
	if err != nil {
		return "", err
	}
	if len(head) < 10 {
		return "", basebridge.ErrFrameShort()
	}
	chunkSize := bytecodec.LE32(head[0:4])
	count := bytecodec.LE32(head[4:8])

	var vars []Variable
	received := 0
	bufferedSinceAck := uint32(0)
	for received < int(count) {
		// 1 tag byte + 6 header bytes (block, lsb, msb, 3-byte LE length)
		// per variable.
		entryHead, err := e.port.ReadExact(7, 50*link.TIMEOUT)
		if err != nil {
			return "", err
		}
		if len(entryHead) < 7 {
			return "", basebridge.ErrFrameShort()
		}
		a := Addr{Block: entryHead[1], Lsb: entryHead[2], Msb: entryHead[3]}
		n := uint32(entryHead[4]) | uint32(entryHead[5])<<8 | uint32(entryHead[6])<<16
		data, err := e.port.ReadExact(int(n), 50*link.TIMEOUT)
		if err != nil {
			return "", err
		}
		vars = append(vars, Variable{Addr: a, Data: data})
		received++

		bufferedSinceAck += uint32(7 + len(data))
		if bufferedSinceAck >= chunkSize && received < int(count) {
			if err := e.port.SendAck(); err != nil {
				return "", err
			}
			bufferedSinceAck = 0
		}
	}

	out := make([]byte, 4)
	bytecodec.PutLE32(out, uint32(len(vars)))
	for _, v := range vars {
		rec := make([]byte, 7+len(v.Data))
		rec[0], rec[1], rec[2] = v.Addr.Block, v.Addr.Lsb, v.Addr.Msb
		bytecodec.PutLE32(rec[3:7], uint32(len(v.Data)))
		copy(rec[7:], v.Data)
		out = append(out, rec...)
	}

	path := fmt.Sprintf("%s/GDFS_%s_%s.bin", backupDir, model, imei)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", basebridge.ErrIo(err)
	}
	return path, nil
}

// Restore reads a backup file and writes each variable back via the
// ChipSelect path, capping each write to maxWriteLen bytes (the remainder
// still advances the file cursor but is not sent).
func (e *Engine) Restore(path string) (int, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, basebridge.ErrIo(err)
	}
	if len(buf) < 4 {
		return 0, basebridge.ErrFrameShort()
	}
	count := bytecodec.LE32(buf[0:4])
	pos := 4
	written := 0
	for i := uint32(0); i < count; i++ {
		if pos+7 > len(buf) {
			return written, basebridge.ErrFrameShort()
		}
		a := Addr{Block: buf[pos], Lsb: buf[pos+1], Msb: buf[pos+2]}
		n := int(bytecodec.LE32(buf[pos+3 : pos+7]))
		pos += 7
		if pos+n > len(buf) {
			return written, basebridge.ErrFrameShort()
		}
		data := buf[pos : pos+n]
		pos += n

		writeLen := n
		if writeLen > maxWriteLen {
			writeLen = maxWriteLen
		}
		if err := e.WriteChipSelect(a, data[:writeLen]); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
