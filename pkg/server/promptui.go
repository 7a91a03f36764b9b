package server

import "html"

// promptUIPage renders the prompt editor page with the current prompt
// already loaded into the textarea.
func promptUIPage(prompt string) string {
	return promptUIHead + html.EscapeString(prompt) + promptUITail
}

const promptUIHead = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Raven Prompt Editor</title>
  <style>
    :root {
      color-scheme: light;
    }
    body {
      margin: 0;
      font-family: "IBM Plex Sans", "SF Pro Text", "Segoe UI", sans-serif;
      background: linear-gradient(135deg, #eef2f7, #f7f5f2);
      color: #1b1f2a;
    }
    .wrap {
      max-width: 920px;
      margin: 48px auto;
      padding: 0 20px 40px;
    }
    .card {
      background: #ffffff;
      border-radius: 18px;
      box-shadow: 0 24px 60px rgba(15, 23, 42, 0.12);
      border: 1px solid #e1e6ef;
      padding: 28px;
    }
    h1 {
      font-size: 22px;
      margin: 0 0 6px;
      letter-spacing: -0.01em;
    }
    p {
      margin: 0 0 18px;
      color: #4c5566;
    }
    textarea {
      width: 100%;
      min-height: 320px;
      resize: vertical;
      border-radius: 12px;
      border: 1px solid #d2d9e5;
      padding: 14px;
      font-size: 14px;
      font-family: "IBM Plex Mono", "SFMono-Regular", ui-monospace, monospace;
      line-height: 1.5;
      box-sizing: border-box;
      background: #f9fafc;
      color: #0f172a;
    }
    .row {
      display: flex;
      align-items: center;
      justify-content: space-between;
      gap: 12px;
      margin-top: 18px;
    }
    button {
      border: none;
      border-radius: 12px;
      padding: 10px 18px;
      font-weight: 600;
      font-size: 14px;
      cursor: pointer;
      background: #111827;
      color: #ffffff;
    }
    button[disabled] {
      opacity: 0.6;
      cursor: not-allowed;
    }
    .status {
      font-size: 13px;
      color: #64748b;
    }
  </style>
</head>
<body>
  <div class="wrap">
    <div class="card">
      <h1>Raven Prompt Editor</h1>
      <p>Edit the system prompt used by the agent service.</p>
      <textarea id="prompt">`

const promptUITail = `</textarea>
      <div class="row">
        <span class="status" id="status">Ready.</span>
        <button id="save">Save</button>
      </div>
    </div>
  </div>
  <script>
    const statusEl = document.getElementById('status');
    const saveBtn = document.getElementById('save');
    const promptEl = document.getElementById('prompt');

    const setStatus = (text) => {
      statusEl.textContent = text;
    };

    saveBtn.addEventListener('click', async () => {
      const text = promptEl.value || '';
      if (!text.trim()) {
        setStatus('Prompt cannot be empty.');
        return;
      }
      saveBtn.disabled = true;
      setStatus('Saving...');
      try {
        const res = await fetch('/prompt', {
          method: 'POST',
          headers: { 'content-type': 'application/json' },
          body: JSON.stringify({ prompt: text }),
        });
        const body = await res.json().catch(() => ({}));
        if (!res.ok) {
          setStatus(body?.detail || 'Save failed.');
          return;
        }
        setStatus('Saved.');
      } catch (err) {
        setStatus('Save failed.');
      } finally {
        saveBtn.disabled = false;
      }
    });
  </script>
</body>
</html>
`
