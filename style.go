package pagemark

import "fmt"

// Stylesheet returns the CSS for the dialog and the keyword markers.
func Stylesheet(f Feature) string {
	f.ApplyDefaults()
	id, mark := f.PopupID, f.MarkerClass
	return fmt.Sprintf(`
#%[1]s-backdrop { position: fixed; inset: 0; background: rgba(0,0,0,.35);
  display: flex; align-items: center; justify-content: center; z-index: 2147483647;
  font-family: system-ui, -apple-system, "Segoe UI", Roboto, "Helvetica Neue", Arial, "Noto Sans JP", sans-serif; }
#%[1]s { background: #fff; border-radius: 12px; padding: 20px; width: min(480px, 92vw);
  box-shadow: 0 10px 30px rgba(0,0,0,.25); }
#%[1]s h3 { font-size: 18px; margin: 0 0 8px; }
#%[1]s p { margin: 6px 0 16px; line-height: 1.6; }
#%[1]s .actions { display: flex; gap: 8px; justify-content: flex-end; }
#%[1]s button { border: 0; padding: 8px 14px; border-radius: 8px; cursor: pointer; }
#%[1]s .ok { background: #0d6efd; color: #fff; }
.%[2]s { background: yellow !important; color: inherit; padding: 0 .1em; border-radius: .15em; }
`, id, mark)
}
