// Command basebridge is a thin CLI front end over pkg/orchestrate. Flag
// parsing here is deliberately minimal: port, backend, baud, the action
// name and its argument, and the profile path (the profile supplies the
// blob and backup roots). Richer argument handling is out of scope
// (see DESIGN.md).
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/basebridge/basebridge"
	"github.com/basebridge/basebridge/pkg/config"
	"github.com/basebridge/basebridge/pkg/gdfs"
	"github.com/basebridge/basebridge/pkg/orchestrate"
)

// gdfsFieldNames maps the CLI's field argument to a gdfs.Field, for the
// gdfsread/gdfswrite actions.
var gdfsFieldNames = map[string]gdfs.Field{
	"phonename":      gdfs.FieldPhoneName,
	"brand":          gdfs.FieldBrand,
	"cxcarticle":     gdfs.FieldCxcArticle,
	"cxcversion":     gdfs.FieldCxcVersion,
	"languagepack":   gdfs.FieldLanguagePack,
	"cdaarticle":     gdfs.FieldCdaArticle,
	"cdarevision":    gdfs.FieldCdaRevision,
	"defaultarticle": gdfs.FieldDefaultArticle,
	"defaultversion": gdfs.FieldDefaultVersion,
	"usercode":       gdfs.FieldUserCode,
	"simlock":        gdfs.FieldSimLock,
}

type fsBlobStore struct{ root string }

func (s fsBlobStore) Load(key string) ([]byte, error) {
	buf, err := os.ReadFile(filepath.Join(s.root, key))
	if err != nil {
		return nil, basebridge.ErrIo(err)
	}
	return buf, nil
}

type stdinPrompter struct{ r *bufio.Reader }

func (p stdinPrompter) ask(question string) rune {
	fmt.Print(question)
	line, _ := p.r.ReadString('\n')
	if len(line) == 0 {
		return 'a'
	}
	return rune(line[0])
}

func (p stdinPrompter) ConfirmInstall(name string, unmatched, total int) rune {
	return p.ask(fmt.Sprintf("%s: %d/%d bytes unmatched, [c]ontinue/[s]kip/[a]bort? ", name, unmatched, total))
}

func (p stdinPrompter) ConfirmUninstall(name string) rune {
	return p.ask(fmt.Sprintf("%s already installed, [u]ninstall/[s]kip/[a]bort? ", name))
}

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial device path")
	backend := flag.String("backend", "serial", "link backend name (serial, virtual)")
	baud := flag.Int("baud", 115200, "requested post-handshake baud rate")
	action := flag.String("action", "identify", "identify|enterflash|flash|readflash|scanfw|restoreboot|patch|gdfsread|gdfswrite|gdfsbackup|gdfsrestore|gdfsscript|secdump|shutdown")
	profilePath := flag.String("profile", "basebridge.ini", "ini profile path")
	arg := flag.String("arg", "", "action-specific argument (file path, etc.)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.NewEntry(logrus.StandardLogger())

	profile, err := config.Load(*profilePath)
	if err != nil {
		log.Errorf("load profile: %v", err)
		os.Exit(1)
	}

	blobs := fsBlobStore{root: profile.Paths().Loader}
	sess, err := orchestrate.Connect(*port, *backend, *baud, blobs, profile.Paths(), profile.Flags(), log)
	if err != nil {
		log.Errorf("connect: %v", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := runAction(sess, *action, *arg, log); err != nil {
		log.Errorf("%s: %v", *action, err)
		os.Exit(1)
	}
}

func runAction(sess *orchestrate.Session, action, arg string, log *logrus.Entry) error {
	switch action {
	case "identify":
		phone := sess.Identify()
		log.Infof("chip=%s domain=%s cid=%d imei=%s", phone.Chip, phone.Domain, phone.CID, phone.OTP.IMEI)
		return nil
	case "enterflash":
		return sess.EnterFlashMode()
	case "flash":
		return sess.FlashImage(arg, true)
	case "readflash":
		path, err := sess.ReadFlash(0, 0x10000)
		if err == nil {
			log.Infof("wrote %s", path)
		}
		return err
	case "scanfw":
		v, err := sess.ScanFirmwareVersion()
		if err == nil {
			log.Infof("firmware version %s", v)
		}
		return err
	case "restoreboot":
		return sess.RestoreBoot()
	case "patch":
		_, err := sess.ApplyPatchFile(arg, 0x10000, stdinPrompter{r: bufio.NewReader(os.Stdin)})
		return err
	case "gdfsread":
		field, ok := gdfsFieldNames[strings.ToLower(arg)]
		if !ok {
			return &basebridge.Error{Kind: basebridge.KindUnsupportedProtocol, Reason: "unknown gdfs field: " + arg}
		}
		data, err := sess.ReadGdfsVar(field)
		if err == nil {
			log.Infof("%s = %s", arg, hex.EncodeToString(data))
		}
		return err
	case "gdfswrite":
		name, hexData, found := strings.Cut(arg, ":")
		if !found {
			return &basebridge.Error{Kind: basebridge.KindUnsupportedProtocol, Reason: "expected field:hexdata"}
		}
		field, ok := gdfsFieldNames[strings.ToLower(name)]
		if !ok {
			return &basebridge.Error{Kind: basebridge.KindUnsupportedProtocol, Reason: "unknown gdfs field: " + name}
		}
		data, err := hex.DecodeString(hexData)
		if err != nil {
			return basebridge.ErrIo(err)
		}
		return sess.WriteGdfsVar(field, data)
	case "gdfsbackup":
		path, err := sess.BackupGdfs()
		if err == nil {
			log.Infof("wrote %s", path)
		}
		return err
	case "gdfsrestore":
		n, err := sess.RestoreGdfs(arg)
		if err == nil {
			log.Infof("restored %d variables", n)
		}
		return err
	case "gdfsscript":
		sum, err := sess.RunGdfsScript(arg)
		if err == nil {
			log.Infof("reads=%d writes=%d warnings=%d", sum.Reads, sum.Writes, sum.Warnings)
		}
		return err
	case "secdump":
		dump, err := sess.DumpSecurityUnits()
		if err == nil {
			log.Infof("simlock=%v mcc=%s mnc=%s usercode=%s", dump.SimLock.Locked, dump.SimLock.MCC, dump.SimLock.MNC, dump.UserCode)
		}
		return err
	case "shutdown":
		return sess.Shutdown()
	default:
		return &basebridge.Error{Kind: basebridge.KindUnsupportedProtocol, Reason: "unknown action: " + action}
	}
}
